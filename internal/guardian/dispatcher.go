// Package guardian fans one monitor decision out to every
// participating user, with per-action concurrency policies and
// per-user freshness re-validation.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/adjust"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/fleet"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/guard"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/rules"
)

// Guardian actions.
const (
	ActionClose     = "close"
	ActionAdjust    = "adjust"
	ActionHalfClose = "half_close"
)

// guardianStrategy is the rule bucket consulted for guardian
// participation.
const guardianStrategy = "archer_model"

// Staleness budgets per action. close tolerates drift and only rejects
// on extreme staleness.
const (
	closeMaxStale     = 60 * time.Second
	adjustMaxStale    = 45 * time.Second
	halfCloseMaxStale = 90 * time.Second

	adjustSpacing    = 300 * time.Millisecond
	halfCloseSpacing = 500 * time.Millisecond

	closeTaskBudget  = 10 * time.Second
	closeTotalBudget = 15 * time.Second
)

// MarketContext is the monitor's view of the market when it decided.
type MarketContext struct {
	TriggerPrice float64   `json:"trigger_price"`
	Timestamp    time.Time `json:"timestamp"`
}

// PriceScenarios are pre-computed stops for drifted marks.
type PriceScenarios struct {
	OriginalStop     float64 `json:"original_stop,omitempty"`
	IfPriceUp05Pct   float64 `json:"if_price_up_0_5_pct,omitempty"`
	IfPriceDown05Pct float64 `json:"if_price_down_0_5_pct,omitempty"`
	IfPriceUp1Pct    float64 `json:"if_price_up_1_pct,omitempty"`
	IfPriceDown1Pct  float64 `json:"if_price_down_1_pct,omitempty"`
}

// Envelope is one guardian decision from the external monitor.
type Envelope struct {
	Action                string                `json:"action"`
	Symbol                string                `json:"symbol"`
	ExitReason            string                `json:"exit_reason,omitempty"`
	NewStop               float64               `json:"new_stop,omitempty"`
	MarketContext         MarketContext         `json:"market_context"`
	PriceScenarios        *PriceScenarios       `json:"price_scenarios,omitempty"`
	MaxAcceptableDriftPct float64               `json:"max_acceptable_drift_pct,omitempty"`
	Entry                 *float64              `json:"entry,omitempty"`
	Side                  string                `json:"side,omitempty"`
	LevelMetadata         *adjust.LevelMetadata `json:"level_metadata,omitempty"`
}

// Validate checks the envelope shape.
func (e *Envelope) Validate() error {
	switch e.Action {
	case ActionClose, ActionAdjust, ActionHalfClose:
	default:
		return fmt.Errorf("validation:invalid_action:%s", e.Action)
	}
	if e.Symbol == "" {
		return fmt.Errorf("validation:symbol_required")
	}
	if e.Action == ActionAdjust && e.NewStop <= 0 && (e.PriceScenarios == nil || e.PriceScenarios.OriginalStop <= 0) {
		return fmt.Errorf("validation:adjust_requires_new_stop")
	}
	return nil
}

// UserResult is one user's outcome.
type UserResult struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Summary aggregates a fan-out.
type Summary struct {
	Action                string       `json:"action"`
	Symbol                string       `json:"symbol"`
	TotalUsers            int          `json:"total_users"`
	SuccessfulUsers       int          `json:"successful_users"`
	FailedUsers           int          `json:"failed_users"`
	SuccessRate           float64      `json:"success_rate"`
	TotalExecutionTimeSec float64      `json:"total_execution_time_sec"`
	Results               []UserResult `json:"results"`
}

// RulesSource loads per-user rules.
type RulesSource interface {
	Get(ctx context.Context, userID, strategy string) (*rules.UserRules, error)
}

// Dispatcher fans guardian decisions out to the fleet.
type Dispatcher struct {
	fleet    *fleet.Fleet
	rules    RulesSource
	prices   *price.View
	guard    *guard.Guard
	adjuster *adjust.Adjuster
	logger   *logging.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a guardian dispatcher
func New(fl *fleet.Fleet, rulesSource RulesSource, prices *price.View, g *guard.Guard, adjuster *adjust.Adjuster, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.WithComponent("guardian")
	}
	return &Dispatcher{
		fleet:    fl,
		rules:    rulesSource,
		prices:   prices,
		guard:    g,
		adjuster: adjuster,
		logger:   logger,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Dispatch runs the envelope's action over all participating users and
// aggregates the per-user results.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) (*Summary, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	env.Symbol = strings.ToUpper(env.Symbol)

	participants, skipped := d.selectUsers(ctx, env.Action)

	started := d.now()
	var results []UserResult
	switch env.Action {
	case ActionClose:
		results = d.runParallelClose(ctx, participants, env)
	case ActionAdjust:
		results = d.runSequential(ctx, participants, env, adjustSpacing, d.adjustUser)
	case ActionHalfClose:
		results = d.runSequential(ctx, participants, env, halfCloseSpacing, d.halfCloseUser)
	}
	elapsed := d.now().Sub(started)

	summary := &Summary{
		Action:                env.Action,
		Symbol:                env.Symbol,
		TotalUsers:            len(participants),
		TotalExecutionTimeSec: elapsed.Seconds(),
		Results:               append(results, skipped...),
	}
	for _, r := range results {
		if r.Success {
			summary.SuccessfulUsers++
		} else {
			summary.FailedUsers++
		}
	}
	if summary.TotalUsers > 0 {
		summary.SuccessRate = float64(summary.SuccessfulUsers) / float64(summary.TotalUsers)
	}

	d.logger.Info("guardian dispatch done",
		"action", env.Action, "symbol", env.Symbol,
		"total", summary.TotalUsers,
		"successful", summary.SuccessfulUsers,
		"failed", summary.FailedUsers,
		"elapsed", elapsed.String())
	return summary, nil
}

// selectUsers partitions the fleet into participants and skipped users
// based on their guardian flags.
func (d *Dispatcher) selectUsers(ctx context.Context, action string) ([]fleet.User, []UserResult) {
	var participants []fleet.User
	var skipped []UserResult

	for _, user := range d.fleet.Users {
		r, err := d.rules.Get(ctx, user.ID, guardianStrategy)
		if err != nil {
			d.logger.Error("rules load failed, skipping user", "user", user.ID, "error", err)
			skipped = append(skipped, UserResult{UserID: user.ID, Skipped: true, Reason: "rules_unavailable"})
			continue
		}
		if r == nil || !r.UseGuardian {
			skipped = append(skipped, UserResult{UserID: user.ID, Skipped: true, Reason: "use_guardian_false"})
			continue
		}
		if action == ActionHalfClose && !r.UseGuardianHalf {
			skipped = append(skipped, UserResult{UserID: user.ID, Skipped: true, Reason: "use_guardian_half_false"})
			continue
		}
		participants = append(participants, user)
	}
	return participants, skipped
}

// runParallelClose races one worker per user under the aggregate
// budget; late results count as failures.
func (d *Dispatcher) runParallelClose(ctx context.Context, users []fleet.User, env *Envelope) []UserResult {
	type indexed struct {
		i      int
		result UserResult
	}
	ch := make(chan indexed, len(users))

	for i, user := range users {
		go func(i int, user fleet.User) {
			taskCtx, cancel := context.WithTimeout(ctx, closeTaskBudget)
			defer cancel()
			ch <- indexed{i, d.closeUser(taskCtx, user, env)}
		}(i, user)
	}

	results := make([]UserResult, len(users))
	for i, user := range users {
		results[i] = UserResult{UserID: user.ID, Reason: "timeout"}
	}

	deadline := time.After(closeTotalBudget)
	for range users {
		select {
		case r := <-ch:
			results[r.i] = r.result
		case <-deadline:
			return results
		}
	}
	return results
}

func (d *Dispatcher) runSequential(ctx context.Context, users []fleet.User, env *Envelope, spacing time.Duration, fn func(context.Context, fleet.User, *Envelope) UserResult) []UserResult {
	results := make([]UserResult, 0, len(users))
	for i, user := range users {
		if i > 0 {
			d.sleep(spacing)
		}
		results = append(results, fn(ctx, user, env))
	}
	return results
}

func (d *Dispatcher) timeDrift(env *Envelope) time.Duration {
	if env.MarketContext.Timestamp.IsZero() {
		return 0
	}
	return d.now().Sub(env.MarketContext.Timestamp)
}

func (d *Dispatcher) closeUser(ctx context.Context, user fleet.User, env *Envelope) UserResult {
	if drift := d.timeDrift(env); drift > closeMaxStale {
		return UserResult{UserID: user.ID, Reason: fmt.Sprintf("close_too_stale_%.1fs", drift.Seconds())}
	}

	result := d.guard.CloseTrade(ctx, user.ID, user.Client, env.Symbol, env.ExitReason)
	return UserResult{UserID: user.ID, Success: result.Success, Reason: result.Reason}
}

func (d *Dispatcher) adjustUser(ctx context.Context, user fleet.User, env *Envelope) UserResult {
	if drift := d.timeDrift(env); drift > adjustMaxStale {
		return UserResult{UserID: user.ID, Reason: fmt.Sprintf("adjust_too_stale_%.1fs", drift.Seconds())}
	}

	// Every user gets a freshly fetched mark for the drift decision
	mark, err := d.prices.Mark(env.Symbol)
	if err != nil {
		return UserResult{UserID: user.ID, Reason: fmt.Sprintf("mark_price:%v", err)}
	}

	newStop := d.selectStop(env, mark)
	result := d.adjuster.AdjustStop(ctx, user.ID, user.Client, env.Symbol, newStop, env.LevelMetadata)
	return UserResult{UserID: user.ID, Success: result.Success, Reason: result.Reason}
}

func (d *Dispatcher) halfCloseUser(ctx context.Context, user fleet.User, env *Envelope) UserResult {
	if drift := d.timeDrift(env); drift > halfCloseMaxStale {
		return UserResult{UserID: user.ID, Reason: fmt.Sprintf("half_close_too_stale_%.1fs", drift.Seconds())}
	}

	if env.Entry != nil && env.Side != "" {
		mark, err := d.prices.Mark(env.Symbol)
		if err != nil {
			return UserResult{UserID: user.ID, Reason: fmt.Sprintf("mark_price:%v", err)}
		}
		inProfit := (strings.EqualFold(env.Side, "BUY") && mark > *env.Entry) ||
			(strings.EqualFold(env.Side, "SELL") && mark < *env.Entry)
		if !inProfit {
			return UserResult{UserID: user.ID, Reason: "no_profit"}
		}
	}

	result := d.adjuster.HalfCloseMoveBE(ctx, user.ID, user.Client, env.Symbol)
	return UserResult{UserID: user.ID, Success: result.Success, Reason: result.Reason}
}

// selectStop picks the stop to apply. With acceptable drift the
// monitor's primary stop is used as-is; past the threshold a
// pre-computed scenario matching the drift band and sign is preferred,
// falling back to the original stop.
func (d *Dispatcher) selectStop(env *Envelope, mark float64) float64 {
	newStop := env.NewStop
	if env.PriceScenarios != nil && newStop <= 0 {
		newStop = env.PriceScenarios.OriginalStop
	}

	trigger := env.MarketContext.TriggerPrice
	if trigger <= 0 || env.MaxAcceptableDriftPct <= 0 || env.PriceScenarios == nil {
		return newStop
	}

	driftPct := abs(mark-trigger) / trigger * 100
	if driftPct <= env.MaxAcceptableDriftPct {
		return newStop
	}

	up := mark > trigger
	sc := env.PriceScenarios
	switch {
	case driftPct >= 0.4 && driftPct <= 0.6:
		if up && sc.IfPriceUp05Pct > 0 {
			return sc.IfPriceUp05Pct
		}
		if !up && sc.IfPriceDown05Pct > 0 {
			return sc.IfPriceDown05Pct
		}
	case driftPct >= 0.8 && driftPct <= 1.2:
		if up && sc.IfPriceUp1Pct > 0 {
			return sc.IfPriceUp1Pct
		}
		if !up && sc.IfPriceDown1Pct > 0 {
			return sc.IfPriceDown1Pct
		}
	}
	if sc.OriginalStop > 0 {
		return sc.OriginalStop
	}
	return newStop
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
