package symbols

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

func btcInfo() *venue.ExchangeInfo {
	return &venue.ExchangeInfo{
		Symbols: []venue.SymbolInfo{
			{
				Symbol: "BTCUSDT",
				Status: "TRADING",
				Filters: []venue.SymbolFilter{
					{FilterType: "PRICE_FILTER", TickSize: "0.10", MinPrice: "556.80", MaxPrice: "4529764"},
					{FilterType: "LOT_SIZE", StepSize: "0.001", MinQty: "0.001", MaxQty: "1000"},
					{FilterType: "MIN_NOTIONAL", Notional: "100"},
				},
			},
			{
				Symbol: "ETHUSDT",
				Status: "TRADING",
				Filters: []venue.SymbolFilter{
					{FilterType: "PRICE_FILTER", TickSize: "0.01", MinPrice: "39.86", MaxPrice: "306177"},
					{FilterType: "LOT_SIZE", StepSize: "0.01", MinQty: "0.01", MaxQty: "10000"},
					{FilterType: "MIN_NOTIONAL", Notional: "20"},
				},
			},
		},
	}
}

func TestRoundPriceAndQty(t *testing.T) {
	spec := &Spec{
		Symbol:   "BTCUSDT",
		TickSize: decimal.RequireFromString("0.10"),
		StepSize: decimal.RequireFromString("0.001"),
	}

	tests := []struct {
		name  string
		in    float64
		round func(float64) float64
		want  float64
	}{
		{"price already on tick", 50010.0, spec.RoundPrice, 50010.0},
		{"price rounds down", 50010.07, spec.RoundPrice, 50010.0},
		{"price float residue", 49510.099999999, spec.RoundPrice, 49510.0},
		{"qty already on step", 0.2, spec.RoundQty, 0.2},
		{"qty rounds down", 0.20099, spec.RoundQty, 0.2},
		{"qty below one step", 0.0004, spec.RoundQty, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.round(tt.in); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpecValidate(t *testing.T) {
	good := &Spec{
		Symbol:      "BTCUSDT",
		TickSize:    decimal.RequireFromString("0.1"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("100"),
	}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := *good
	bad.StepSize = decimal.Zero
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero step_size")
	}
}

func TestCacheRefreshAndTTL(t *testing.T) {
	mock := venue.NewMock(1000)
	infoCalls := 0
	mock.ExchangeInfoFn = func() (*venue.ExchangeInfo, error) {
		infoCalls++
		return btcInfo(), nil
	}
	mock.Brackets["BTCUSDT"] = []venue.LeverageBracket{
		{Bracket: 1, InitialLeverage: 125, NotionalCap: 50000},
		{Bracket: 2, InitialLeverage: 100, NotionalCap: 500000},
	}

	cache := NewCache(mock, logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))
	now := time.Now()
	cache.now = func() time.Time { return now }

	spec, err := cache.Get("btcusdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s, want BTCUSDT", spec.Symbol)
	}
	if spec.MaxLeverage != 125 {
		t.Errorf("max leverage = %d, want 125", spec.MaxLeverage)
	}
	if got := spec.RoundPrice(50010.04); got != 50010.0 {
		t.Errorf("rounded price = %v, want 50010.0", got)
	}

	// Second hit inside the TTL must not refetch
	if _, err := cache.Get("ETHUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if infoCalls != 1 {
		t.Errorf("exchangeInfo calls = %d, want 1", infoCalls)
	}

	// Past the TTL the cache refetches
	now = now.Add(2 * time.Hour)
	if _, err := cache.Get("BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if infoCalls != 2 {
		t.Errorf("exchangeInfo calls = %d, want 2", infoCalls)
	}
}

func TestCacheServesStaleOnError(t *testing.T) {
	mock := venue.NewMock(1000)
	failing := false
	mock.ExchangeInfoFn = func() (*venue.ExchangeInfo, error) {
		if failing {
			return nil, errors.New("venue down")
		}
		return btcInfo(), nil
	}
	mock.Brackets["BTCUSDT"] = []venue.LeverageBracket{{Bracket: 1, InitialLeverage: 75, NotionalCap: 50000}}

	cache := NewCache(mock, logging.New(&logging.Config{Level: "CRITICAL", Output: "stderr"}))
	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Get("BTCUSDT"); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	failing = true
	now = now.Add(2 * time.Hour)

	spec, err := cache.Get("BTCUSDT")
	if err != nil {
		t.Fatalf("expected stale spec, got error: %v", err)
	}
	if spec.Symbol != "BTCUSDT" || spec.MaxLeverage != 75 {
		t.Errorf("stale spec wrong: %+v", spec)
	}

	// Cold cache with a failing venue is a hard error
	cold := NewCache(mock, logging.New(&logging.Config{Level: "CRITICAL", Output: "stderr"}))
	if _, err := cold.Get("BTCUSDT"); err == nil {
		t.Error("expected hard error on cold cache")
	}
}
