// Package rules holds per-user trading rule configuration and the
// engine that gates inbound signals against it.
package rules

import "strings"

// Count methods for the open-trade limit.
const (
	CountByPositions = "positions"
	CountByOrders    = "orders"
)

// ScheduleRange is one [start, end) window in UTC, "HH:MM" formatted.
type ScheduleRange [2]string

// Schedule restricts trading to configured windows per weekday. Weekday
// keys are lowercase English names. A day with no entry means no
// trading that day.
type Schedule struct {
	Enabled bool                       `json:"enabled"`
	Days    map[string][]ScheduleRange `json:"days,omitempty"`
}

// CircuitBreakerTier pairs a consecutive-loss threshold with the pause
// it imposes.
type CircuitBreakerTier struct {
	ConsecutiveLosses int     `json:"consecutive_losses"`
	PauseHours        float64 `json:"pause_hours"`
}

// CircuitBreaker is either a simple threshold or a tiered ladder. When
// Tiers is non-empty it takes precedence.
type CircuitBreaker struct {
	MaxConsecutiveLosses int                  `json:"max_consecutive_losses,omitempty"`
	PauseDurationHours   float64              `json:"pause_duration_hours,omitempty"`
	Tiers                []CircuitBreakerTier `json:"tiers,omitempty"`
}

// UserRules is the configuration of one (user, strategy) bucket.
type UserRules struct {
	Enabled bool `json:"enabled"`

	// Signal quality gates
	MinProbability    float64 `json:"min_probability,omitempty"`
	MinRR             float64 `json:"min_rr,omitempty"`
	MinGrokConfidence string  `json:"min_grok_confidence,omitempty"`
	MinGrokTiming     string  `json:"min_grok_timing,omitempty"`
	MaxGrokRisk       string  `json:"max_grok_risk,omitempty"`

	// Sizing
	RiskPct     float64 `json:"risk_pct"`
	MaxLeverage int     `json:"max_leverage"`

	// Limits
	MaxTradesOpen int    `json:"max_trades_open,omitempty"`
	CountMethod   string `json:"count_method,omitempty"`

	// Cooldown after a losing exit, per symbol
	CooldownHours float64 `json:"cooldown_hours,omitempty"`

	Schedule       *Schedule       `json:"schedule,omitempty"`
	CircuitBreaker *CircuitBreaker `json:"circuit_breaker,omitempty"`

	// Guardian participation
	UseGuardian     bool `json:"use_guardian,omitempty"`
	UseGuardianHalf bool `json:"use_guardian_half,omitempty"`
}

// PausePeriodFor resolves the pause hours that apply to a loss run, 0
// if the breaker does not engage. Tiered configs pick the highest tier
// whose threshold is at or below the run.
func (cb *CircuitBreaker) PausePeriodFor(losses int) float64 {
	if cb == nil || losses <= 0 {
		return 0
	}
	if len(cb.Tiers) > 0 {
		best := 0.0
		bestThreshold := -1
		for _, tier := range cb.Tiers {
			if tier.ConsecutiveLosses <= losses && tier.ConsecutiveLosses > bestThreshold {
				best = tier.PauseHours
				bestThreshold = tier.ConsecutiveLosses
			}
		}
		return best
	}
	if cb.MaxConsecutiveLosses > 0 && losses >= cb.MaxConsecutiveLosses {
		return cb.PauseDurationHours
	}
	return 0
}

// weekdayKey converts a time.Weekday name to the schedule's key form.
func weekdayKey(day string) string {
	return strings.ToLower(day)
}
