package database

import (
	"encoding/json"
	"time"
)

// Exit reasons for closed trades. An open trade carries ExitReasonActive.
const (
	ExitReasonActive               = "active"
	ExitReasonTargetHit            = "target_hit"
	ExitReasonStopHit              = "stop_hit"
	ExitReasonTimeoutWin           = "timeout_win"
	ExitReasonTimeoutLost          = "timeout_lost"
	ExitReasonTimeoutBreakeven     = "timeout_breakeven"
	ExitReasonManualCloseWin       = "manual_close_win"
	ExitReasonManualCloseLost      = "manual_close_lost"
	ExitReasonManualCloseBreakeven = "manual_close_breakeven"
	ExitReasonGuardianClose        = "guardian_close"
)

// IsLosingExit reports whether an exit reason counts toward the
// consecutive-loss run of the circuit breaker.
func IsLosingExit(reason string) bool {
	switch reason {
	case ExitReasonStopHit, ExitReasonManualCloseLost, ExitReasonTimeoutLost:
		return true
	}
	return false
}

// NeedsCooldown reports whether an exit reason starts the per-symbol
// cooldown. timeout_lost does not: the timeout is its own waiting
// period.
func NeedsCooldown(reason string) bool {
	return reason == ExitReasonStopHit || reason == ExitReasonManualCloseLost
}

// TradeRecord is one executed trade, open or closed.
type TradeRecord struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Strategy  string `json:"strategy"`
	Symbol    string `json:"symbol"` // stored lowercase
	Direction string `json:"direction"`

	EntryOrderID int64 `json:"entry_order_id"`
	SLOrderID    int64 `json:"sl_order_id"`
	TPOrderID    int64 `json:"tp_order_id"`

	EntryPrice    float64 `json:"entry_price"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	Quantity      float64 `json:"quantity"`
	RR            float64 `json:"rr"`
	Leverage      int     `json:"leverage"`
	CapitalRisked float64 `json:"capital_risked"`
	Probability   float64 `json:"probability"`

	EV                   *float64 `json:"ev,omitempty"`
	SimulatedProbability *float64 `json:"simulated_probability,omitempty"`
	GrokProbability      *float64 `json:"grok_probability,omitempty"`
	GrokAction           string   `json:"grok_action,omitempty"`
	GrokConfidence       string   `json:"grok_confidence,omitempty"`
	GrokRiskLevel        string   `json:"grok_risk_level,omitempty"`
	GrokTimingQuality    string   `json:"grok_timing_quality,omitempty"`
	GrokKeyFactor        string   `json:"grok_key_factor,omitempty"`

	RulesSnapshot   json.RawMessage `json:"rules_snapshot,omitempty"`
	SignalTimestamp *time.Time      `json:"signal_timestamp,omitempty"`

	ExitReason string     `json:"exit_reason"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClosedTrade is one row of trade_history, the closed-lifecycle summary
// used by cooldown and circuit-breaker scans.
type ClosedTrade struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"` // stored lowercase
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  *float64  `json:"exit_price,omitempty"`
	Quantity   *float64  `json:"quantity,omitempty"`
	PnL        *float64  `json:"pnl,omitempty"`
	ExitReason string    `json:"exit_reason"`
	ExitTime   time.Time `json:"exit_time"`
}

// LossRun is the result of a consecutive-loss scan.
type LossRun struct {
	Count        int
	LastLossTime time.Time
}
