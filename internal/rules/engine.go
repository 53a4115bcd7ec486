package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/signal"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// HistoryStore is the slice of trade history the engine consults.
type HistoryStore interface {
	LastClosedTrade(ctx context.Context, userID, strategy, symbol string) (*database.ClosedTrade, error)
	ConsecutiveLosses(ctx context.Context, userID, strategy string) (*database.LossRun, error)
}

// Decision is the outcome of validating a signal for one user.
type Decision struct {
	Approved bool
	Reason   string // component:detail rejection code, "" when approved
}

func approved() Decision            { return Decision{Approved: true} }
func rejected(code string) Decision { return Decision{Reason: code} }

// Engine validates signals against per-user rules. Checks run in a
// fixed order and the first failure returns.
type Engine struct {
	history HistoryStore
	logger  *logging.Logger
}

// NewEngine creates a rule engine
func NewEngine(history HistoryStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.WithComponent("rules")
	}
	return &Engine{history: history, logger: logger}
}

// Validate runs the full rule chain for one user. The venue client is
// used only for the trade-limits check; venue errors there default to
// allow so a flaky positions endpoint cannot block every entry.
func (e *Engine) Validate(ctx context.Context, userID string, r *UserRules, sig *signal.Signal, client venue.Client, now time.Time) Decision {
	if r == nil || !r.Enabled {
		return rejected("user_disabled")
	}

	if d := e.checkSchedule(r, now); !d.Approved {
		return d
	}
	if d := e.checkCircuitBreaker(ctx, userID, r, sig.Strategy, now); !d.Approved {
		return d
	}
	if d := e.checkCooldown(ctx, userID, r, sig, now); !d.Approved {
		return d
	}
	if d := e.checkTradeLimits(userID, r, sig, client); !d.Approved {
		return d
	}
	return e.checkSignalQuality(r, sig)
}

func (e *Engine) checkSchedule(r *UserRules, now time.Time) Decision {
	if r.Schedule == nil || !r.Schedule.Enabled {
		return approved()
	}

	now = now.UTC()
	ranges, ok := r.Schedule.Days[weekdayKey(now.Weekday().String())]
	if !ok {
		return rejected("schedule:outside_hours")
	}

	current := now.Format("15:04")
	for _, rng := range ranges {
		if current >= rng[0] && current < rng[1] {
			return approved()
		}
	}
	return rejected("schedule:outside_hours")
}

func (e *Engine) checkCircuitBreaker(ctx context.Context, userID string, r *UserRules, strategy string, now time.Time) Decision {
	if r.CircuitBreaker == nil {
		return approved()
	}

	run, err := e.history.ConsecutiveLosses(ctx, userID, strategy)
	if err != nil {
		e.logger.Error("circuit breaker scan failed, allowing", "user", userID, "error", err)
		return approved()
	}
	if run == nil {
		return approved()
	}

	pauseHours := r.CircuitBreaker.PausePeriodFor(run.Count)
	if pauseHours <= 0 {
		return approved()
	}

	pauseEnd := run.LastLossTime.Add(time.Duration(pauseHours * float64(time.Hour)))
	if now.Before(pauseEnd) {
		remaining := pauseEnd.Sub(now).Hours()
		return rejected(fmt.Sprintf("circuit_breaker:paused:%d_losses:remaining_%.1fh", run.Count, remaining))
	}
	return approved()
}

func (e *Engine) checkCooldown(ctx context.Context, userID string, r *UserRules, sig *signal.Signal, now time.Time) Decision {
	if r.CooldownHours <= 0 {
		return approved()
	}

	last, err := e.history.LastClosedTrade(ctx, userID, sig.Strategy, sig.Symbol)
	if err != nil {
		e.logger.Error("cooldown lookup failed, allowing", "user", userID, "symbol", sig.Symbol, "error", err)
		return approved()
	}
	if last == nil || !database.NeedsCooldown(last.ExitReason) {
		return approved()
	}

	age := now.Sub(last.ExitTime)
	cooldown := time.Duration(r.CooldownHours * float64(time.Hour))
	if age < cooldown {
		remaining := (cooldown - age).Hours()
		return rejected(fmt.Sprintf("cooldown:%s:%s:%.1fh_ago:remaining_%.1fh",
			strings.ToLower(sig.Symbol), last.ExitReason, age.Hours(), remaining))
	}
	return approved()
}

// checkTradeLimits makes a single positions call: existing position on
// this symbol blocks, then the open-position count is compared against
// max_trades_open.
func (e *Engine) checkTradeLimits(userID string, r *UserRules, sig *signal.Signal, client venue.Client) Decision {
	positions, err := client.GetPositions("")
	if err != nil {
		e.logger.Error("positions fetch failed, allowing", "user", userID, "error", err)
		return approved()
	}

	open := 0
	for _, pos := range positions {
		if pos.PositionAmt == 0 {
			continue
		}
		if strings.EqualFold(pos.Symbol, sig.Symbol) {
			return rejected("trade_limits:position_exists")
		}
		open++
	}

	if r.MaxTradesOpen > 0 && r.MaxTradesOpen < 999 {
		count := open
		if r.CountMethod == CountByOrders {
			count = e.countOrderSymbols(userID, client)
		}
		if count >= r.MaxTradesOpen {
			return rejected(fmt.Sprintf("trade_limits:max_exceeded:%d/%d", count, r.MaxTradesOpen))
		}
	}
	return approved()
}

// countOrderSymbols counts distinct symbols with resting conditional
// orders, the "orders" count method.
func (e *Engine) countOrderSymbols(userID string, client venue.Client) int {
	orders, err := client.GetOpenConditionalOrders("")
	if err != nil {
		e.logger.Error("open orders fetch failed, counting zero", "user", userID, "error", err)
		return 0
	}
	seen := make(map[string]struct{})
	for _, o := range orders {
		seen[o.Symbol] = struct{}{}
	}
	return len(seen)
}

func (e *Engine) checkSignalQuality(r *UserRules, sig *signal.Signal) Decision {
	if sig.Probability < r.MinProbability {
		return rejected(fmt.Sprintf("signal_quality:probability:%.1f<%.1f", sig.Probability, r.MinProbability))
	}
	if sig.RR < r.MinRR {
		return rejected(fmt.Sprintf("signal_quality:rr:%.2f<%.2f", sig.RR, r.MinRR))
	}

	if sig.GrokAction != "" && !strings.EqualFold(sig.GrokAction, signal.GrokActionEnter) {
		return rejected(fmt.Sprintf("signal_quality:grok_action:%s", strings.ToUpper(sig.GrokAction)))
	}

	// Ranked checks: lower index is better for confidence and timing,
	// safer for risk. A missing signal value or configured threshold
	// skips the sub-check; an unrecognized level value passes.
	if r.MinGrokConfidence != "" && sig.GrokConfidence != "" {
		actual, minimum := signal.ConfidenceRank(sig.GrokConfidence), signal.ConfidenceRank(r.MinGrokConfidence)
		if actual >= 0 && minimum >= 0 && actual > minimum {
			return rejected(fmt.Sprintf("signal_quality:grok_confidence:%s<%s",
				strings.ToUpper(sig.GrokConfidence), strings.ToUpper(r.MinGrokConfidence)))
		}
	}
	if r.MinGrokTiming != "" && sig.GrokTimingQuality != "" {
		actual, minimum := signal.TimingRank(sig.GrokTimingQuality), signal.TimingRank(r.MinGrokTiming)
		if actual >= 0 && minimum >= 0 && actual > minimum {
			return rejected(fmt.Sprintf("signal_quality:grok_timing:%s<%s",
				strings.ToUpper(sig.GrokTimingQuality), strings.ToUpper(r.MinGrokTiming)))
		}
	}
	if r.MaxGrokRisk != "" && sig.GrokRiskLevel != "" {
		actual, maximum := signal.RiskRank(sig.GrokRiskLevel), signal.RiskRank(r.MaxGrokRisk)
		if actual >= 0 && maximum >= 0 && actual > maximum {
			return rejected(fmt.Sprintf("signal_quality:grok_risk:%s>%s",
				strings.ToUpper(sig.GrokRiskLevel), strings.ToUpper(r.MaxGrokRisk)))
		}
	}

	return approved()
}
