// Package signal defines the inbound trade signal and its wire-level
// validation. Signals are immutable once parsed; repricing happens on
// derived values inside the position guard.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the trade direction on the wire.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid reports whether d is one of the two accepted directions.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// IsLong reports whether the direction opens a long position.
func (d Direction) IsLong() bool {
	return d == DirectionBuy
}

// Grok advisory enums. Ranks are list indexes: lower index = better for
// confidence and timing, lower index = safer for risk.
var (
	confidenceLevels = []string{"HIGH", "MEDIUM", "LOW"}
	timingLevels     = []string{"OPTIMAL", "GOOD", "FAIR"}
	riskLevels       = []string{"LOW", "MEDIUM", "HIGH"}
)

// GrokActionEnter is the only advisory action that permits entry.
const GrokActionEnter = "ENTER"

// ConfidenceRank returns the index of a grok_confidence level, -1 if
// unrecognized.
func ConfidenceRank(level string) int { return rank(confidenceLevels, level) }

// TimingRank returns the index of a grok_timing_quality level, -1 if
// unrecognized.
func TimingRank(level string) int { return rank(timingLevels, level) }

// RiskRank returns the index of a grok_risk_level value, -1 if
// unrecognized.
func RiskRank(level string) int { return rank(riskLevels, level) }

func rank(levels []string, level string) int {
	level = strings.ToUpper(strings.TrimSpace(level))
	for i, l := range levels {
		if l == level {
			return i
		}
	}
	return -1
}

// Signal is one inbound trade signal.
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"trade"`
	Entry       float64   `json:"entry"`
	Stop        float64   `json:"stop"`
	Target      float64   `json:"target"`
	RR          float64   `json:"rr"`
	Probability float64   `json:"probability"`
	Strategy    string    `json:"strategy"`

	EV        *float64   `json:"ev,omitempty"`
	MarkPrice *float64   `json:"mark_price,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	GrokModel            string   `json:"grok_model,omitempty"`
	SimulatedProbability *float64 `json:"simulated_probability,omitempty"`
	GrokProbability      *float64 `json:"grok_probability,omitempty"`
	GrokAction           string   `json:"grok_action,omitempty"`
	GrokConfidence       string   `json:"grok_confidence,omitempty"`
	GrokRiskLevel        string   `json:"grok_risk_level,omitempty"`
	GrokTimingQuality    string   `json:"grok_timing_quality,omitempty"`
	GrokKeyFactor        string   `json:"grok_key_factor,omitempty"`
}

// Normalize upper-cases the symbol and direction and defaults the
// strategy. Call before Validate.
func (s *Signal) Normalize() {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	s.Direction = Direction(strings.ToUpper(strings.TrimSpace(string(s.Direction))))
	s.Strategy = strings.TrimSpace(s.Strategy)
	if s.Strategy == "" {
		s.Strategy = "archer_model"
	}
}

// Validate enforces the wire-level invariants: direction, positive
// prices, price ordering per direction, and probability bounds.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("validation:symbol_required")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("validation:invalid_direction:%s (must be BUY or SELL)", s.Direction)
	}
	if s.Entry <= 0 || s.Stop <= 0 || s.Target <= 0 {
		return fmt.Errorf("validation:prices_must_be_positive")
	}
	if s.Direction.IsLong() {
		if !(s.Stop < s.Entry && s.Entry < s.Target) {
			return fmt.Errorf("validation:price_ordering:LONG requires stop < entry < target, got stop=%g entry=%g target=%g",
				s.Stop, s.Entry, s.Target)
		}
	} else {
		if !(s.Target < s.Entry && s.Entry < s.Stop) {
			return fmt.Errorf("validation:price_ordering:SHORT requires target < entry < stop, got target=%g entry=%g stop=%g",
				s.Target, s.Entry, s.Stop)
		}
	}
	if s.Probability < 0 || s.Probability > 100 {
		return fmt.Errorf("validation:probability_out_of_range:%g", s.Probability)
	}
	if s.RR <= 0 {
		return fmt.Errorf("validation:rr_must_be_positive:%g", s.RR)
	}
	return nil
}

// StopDistance returns the absolute entry-to-stop distance.
func (s *Signal) StopDistance() float64 {
	d := s.Entry - s.Stop
	if d < 0 {
		return -d
	}
	return d
}
