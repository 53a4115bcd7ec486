package signal

import (
	"strings"
	"testing"
)

func validLong() Signal {
	return Signal{
		Symbol:      "BTCUSDT",
		Direction:   DirectionBuy,
		Entry:       50000,
		Stop:        49500,
		Target:      51000,
		RR:          2,
		Probability: 70,
		Strategy:    "archer_model",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Signal)
		wantErr string // substring, "" means valid
	}{
		{"valid long", func(s *Signal) {}, ""},
		{"valid short", func(s *Signal) {
			s.Direction = DirectionSell
			s.Stop = 50500
			s.Target = 49000
		}, ""},
		{"bad direction", func(s *Signal) { s.Direction = "HOLD" }, "invalid_direction"},
		{"long stop above entry", func(s *Signal) { s.Stop = 50100 }, "price_ordering"},
		{"long target below entry", func(s *Signal) { s.Target = 49900 }, "price_ordering"},
		{"short stop below entry", func(s *Signal) {
			s.Direction = DirectionSell
			s.Stop = 49000
			s.Target = 48000
		}, "price_ordering"},
		{"zero price", func(s *Signal) { s.Stop = 0 }, "prices_must_be_positive"},
		{"probability over 100", func(s *Signal) { s.Probability = 101 }, "probability_out_of_range"},
		{"missing symbol", func(s *Signal) { s.Symbol = "" }, "symbol_required"},
		{"zero rr", func(s *Signal) { s.RR = 0 }, "rr_must_be_positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validLong()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	s := Signal{Symbol: " ethusdt ", Direction: "buy"}
	s.Normalize()
	if s.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", s.Symbol)
	}
	if s.Direction != DirectionBuy {
		t.Errorf("direction = %q, want BUY", s.Direction)
	}
	if s.Strategy != "archer_model" {
		t.Errorf("strategy = %q, want archer_model default", s.Strategy)
	}
}

func TestRanks(t *testing.T) {
	if ConfidenceRank("HIGH") != 0 || ConfidenceRank("LOW") != 2 {
		t.Error("confidence ranks wrong")
	}
	if TimingRank("optimal") != 0 || TimingRank("FAIR") != 2 {
		t.Error("timing ranks wrong")
	}
	if RiskRank("LOW") != 0 || RiskRank("HIGH") != 2 {
		t.Error("risk ranks wrong")
	}
	if ConfidenceRank("ULTRA") != -1 {
		t.Error("unrecognized level must rank -1")
	}
}
