package venue

import (
	"errors"
	"testing"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
)

func newTestRetrying(inner Client) (*Retrying, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrying(inner, logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))
	r.sleep = func(d time.Duration) { slept = append(slept, d) }
	return r, &slept
}

func TestRetryingRecoversFromTransient(t *testing.T) {
	mock := NewMock(1000)
	calls := 0
	mock.MarkPriceFn = func(symbol string) (*MarkPrice, error) {
		calls++
		if calls < 3 {
			return nil, &APIError{Code: -1003, Kind: KindTransient}
		}
		return &MarkPrice{Symbol: symbol, MarkPrice: 42000}, nil
	}

	r, slept := newTestRetrying(mock)
	mp, err := r.GetMarkPrice("BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mp.MarkPrice != 42000 {
		t.Errorf("mark price = %v, want 42000", mp.MarkPrice)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*slept), len(want))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("backoff[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	mock := NewMock(1000)
	calls := 0
	mock.MarketOrderFn = func(params MarketOrderParams) (*OrderResponse, error) {
		calls++
		return nil, &APIError{Code: -1001, Kind: KindTransient}
	}

	r, slept := newTestRetrying(mock)
	_, err := r.CreateMarketOrder(MarketOrderParams{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.01})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*slept), len(want))
	}
}

func TestRetryingFailsFastOnDeterministicError(t *testing.T) {
	mock := NewMock(1000)
	calls := 0
	mock.ConditionalFn = func(params ConditionalOrderParams) (*ConditionalOrderResponse, error) {
		calls++
		return nil, &APIError{Code: -2019, Kind: KindMargin}
	}

	r, slept := newTestRetrying(mock)
	_, err := r.CreateConditionalOrder(ConditionalOrderParams{
		Symbol:       "BTCUSDT",
		Side:         SideSell,
		Type:         OrderTypeStopMarket,
		TriggerPrice: 41000,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindMargin {
		t.Fatalf("expected margin error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times, want 0", len(*slept))
	}
}

func TestRetryingPassesThroughSuccess(t *testing.T) {
	mock := NewMock(2500)
	r, slept := newTestRetrying(mock)

	balance, err := r.GetAvailableBalance()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 2500 {
		t.Errorf("balance = %v, want 2500", balance)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times, want 0", len(*slept))
	}
}
