package guard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/livetrade"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/rules"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/signal"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/symbols"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

type fakeTrades struct {
	inserted []*database.TradeRecord
	exits    []string
}

func (f *fakeTrades) Insert(ctx context.Context, trade *database.TradeRecord) error {
	f.inserted = append(f.inserted, trade)
	return nil
}

func (f *fakeTrades) UpdateExit(ctx context.Context, userID, symbol, exitReason string, exitPrice, pnl float64) error {
	f.exits = append(f.exits, exitReason)
	return nil
}

func btcMock(mark, balance float64) *venue.Mock {
	mock := venue.NewMock(balance)
	mock.SetMarkPrice("BTCUSDT", mark)
	mock.Info = &venue.ExchangeInfo{
		Symbols: []venue.SymbolInfo{{
			Symbol: "BTCUSDT",
			Status: "TRADING",
			Filters: []venue.SymbolFilter{
				{FilterType: "PRICE_FILTER", TickSize: "0.1", MinPrice: "500", MaxPrice: "5000000"},
				{FilterType: "LOT_SIZE", StepSize: "0.001", MinQty: "0.001", MaxQty: "1000"},
				{FilterType: "MIN_NOTIONAL", Notional: "5"},
			},
		}},
	}
	mock.Brackets["BTCUSDT"] = []venue.LeverageBracket{{Bracket: 1, InitialLeverage: 125, NotionalCap: 1e9}}
	return mock
}

type guardEnv struct {
	guard  *Guard
	trades *fakeTrades
	live   *livetrade.Store
	alerts string
}

func newGuardEnv(t *testing.T, mock *venue.Mock) *guardEnv {
	t.Helper()
	alertPath := filepath.Join(t.TempDir(), "alerts.log")
	logger := logging.New(&logging.Config{
		Level:     "CRITICAL",
		Output:    filepath.Join(t.TempDir(), "out.log"),
		AlertPath: alertPath,
	})

	trades := &fakeTrades{}
	live := livetrade.NewStore(nil, logger)
	g := New(
		symbols.NewCache(mock, logger),
		price.NewView(mock, nil, logger),
		trades,
		live,
		logger,
	)
	g.sleep = func(time.Duration) {}
	return &guardEnv{guard: g, trades: trades, live: live, alerts: alertPath}
}

func (e *guardEnv) hasAlert(t *testing.T) bool {
	t.Helper()
	data, err := os.ReadFile(e.alerts)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		t.Fatalf("reading alerts: %v", err)
	}
	return len(strings.TrimSpace(string(data))) > 0
}

func longSignal() *signal.Signal {
	return &signal.Signal{
		Symbol:      "BTCUSDT",
		Direction:   signal.DirectionBuy,
		Entry:       50000,
		Stop:        49500,
		Target:      51000,
		RR:          2,
		Probability: 70,
		Strategy:    "archer_model",
	}
}

func tradingRules() *rules.UserRules {
	return &rules.UserRules{
		Enabled:     true,
		MinRR:       1.5,
		RiskPct:     0.01,
		MaxLeverage: 20,
	}
}

func TestOpenTradeHappyPathLong(t *testing.T) {
	// Mark drifted to 50010; stop distance 500 and rr 2 must carry over
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if !result.Success || result.Step != StepAllOK {
		t.Fatalf("result = %+v, want ALL_OK", result)
	}
	if result.Entry != 50010.0 {
		t.Errorf("entry = %v, want 50010.0", result.Entry)
	}
	if result.StopLoss != 49510.0 {
		t.Errorf("stop = %v, want 49510.0", result.StopLoss)
	}
	if result.Target != 51010.0 {
		t.Errorf("target = %v, want 51010.0", result.Target)
	}
	if result.Quantity != 0.2 {
		t.Errorf("quantity = %v, want 0.2", result.Quantity)
	}
	if result.Leverage != 20 {
		t.Errorf("leverage = %v, want 20", result.Leverage)
	}
	if mock.Leverage["BTCUSDT"] != 20 {
		t.Errorf("venue leverage = %d, want 20", mock.Leverage["BTCUSDT"])
	}
	if mock.OpenAlgoCount() != 2 {
		t.Errorf("conditional orders = %d, want SL + TP", mock.OpenAlgoCount())
	}

	if len(env.trades.inserted) != 1 {
		t.Fatalf("trade records = %d, want 1", len(env.trades.inserted))
	}
	record := env.trades.inserted[0]
	if record.UserID != "u1" || record.Direction != "BUY" || record.Quantity != 0.2 {
		t.Errorf("record = %+v", record)
	}

	live, _ := env.live.Get(context.Background(), "u1", "BTCUSDT")
	if live == nil || live.Stop != 49510.0 {
		t.Errorf("live trade = %+v, want stop 49510.0", live)
	}
}

func TestOpenTradeShortReprice(t *testing.T) {
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	sig := longSignal()
	sig.Direction = signal.DirectionSell
	sig.Stop = 50500
	sig.Target = 49000

	result := env.guard.OpenTrade(context.Background(), "u1", mock, sig, tradingRules())
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	// SHORT: stop above entry, target below
	if !(result.Target < result.Entry && result.Entry < result.StopLoss) {
		t.Errorf("price ordering violated: target=%v entry=%v stop=%v", result.Target, result.Entry, result.StopLoss)
	}
	if result.StopLoss != 50510.0 || result.Target != 49010.0 {
		t.Errorf("stop/target = %v/%v, want 50510.0/49010.0", result.StopLoss, result.Target)
	}
}

func TestOpenTradeSLFailureFlattens(t *testing.T) {
	// SL creation fails fatally; the filled position must be closed
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	mock.ConditionalFn = func(params venue.ConditionalOrderParams) (*venue.ConditionalOrderResponse, error) {
		return nil, &venue.APIError{Code: -2021, Kind: venue.KindStopRejected}
	}

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Step != StepStopLoss {
		t.Errorf("step = %q, want STOP_LOSS", result.Step)
	}
	if result.PositionClosed == nil || !*result.PositionClosed {
		t.Error("position must be confirmed closed")
	}
	positions, _ := mock.GetPositions("BTCUSDT")
	for _, pos := range positions {
		if pos.PositionAmt != 0 {
			t.Errorf("naked position left: %+v", pos)
		}
	}
	if env.hasAlert(t) {
		t.Error("no CRITICAL alert expected when flatten succeeds")
	}
	if len(env.trades.inserted) != 0 {
		t.Error("failed trade must not be persisted as opened")
	}
}

func TestOpenTradeFlattenExhaustedGoesCritical(t *testing.T) {
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	// Entry fills normally; every later market order fails, and the
	// position never leaves the book.
	marketCalls := 0
	mock.MarketOrderFn = func(params venue.MarketOrderParams) (*venue.OrderResponse, error) {
		marketCalls++
		if marketCalls == 1 {
			mock.SetPosition("BTCUSDT", params.Quantity, 50010)
			return &venue.OrderResponse{
				OrderID: 1, Symbol: params.Symbol,
				Status:   string(venue.OrderStatusFilled),
				AvgPrice: 50010, ExecutedQty: params.Quantity,
			}, nil
		}
		return nil, &venue.APIError{Code: -2019, Kind: venue.KindMargin}
	}
	mock.ConditionalFn = func(params venue.ConditionalOrderParams) (*venue.ConditionalOrderResponse, error) {
		return nil, &venue.APIError{Code: -2021, Kind: venue.KindStopRejected}
	}

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.PositionClosed == nil || *result.PositionClosed {
		t.Error("position_closed must be false when flatten is exhausted")
	}
	// 1 entry + 5 closePosition attempts + 2 reduceOnly fallbacks
	if marketCalls != 8 {
		t.Errorf("market order calls = %d, want 8", marketCalls)
	}
	if !env.hasAlert(t) {
		t.Error("expected CRITICAL alert for naked position")
	}
}

func TestOpenTradeRejectsDegradedRR(t *testing.T) {
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	r := tradingRules()
	r.MinRR = 2.5 // signal rr is 2, repriced rr stays ~2

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), r)
	if result.Success || !strings.HasPrefix(result.Reason, "reprice:rr_below_min") {
		t.Errorf("result = %+v, want rr_below_min rejection", result)
	}
}

func TestOpenTradeRejectsSubTickStopDistance(t *testing.T) {
	// Entry and stop inside the same tick collapse to the same price
	// after round-down; sizing would divide by a zero distance.
	mock := btcMock(50000.05, 10000)
	env := newGuardEnv(t, mock)

	sig := longSignal()
	sig.Entry = 50000.05
	sig.Stop = 50000.01
	sig.Target = 50000.13
	r := tradingRules()
	r.MinRR = 0

	result := env.guard.OpenTrade(context.Background(), "u1", mock, sig, r)
	if result.Success || result.Reason != "reprice:zero_risk_distance" {
		t.Errorf("result = %+v, want zero_risk_distance rejection", result)
	}
	positions, _ := mock.GetPositions("BTCUSDT")
	if len(positions) != 0 {
		t.Errorf("no order should reach the venue, positions = %+v", positions)
	}
}

func TestOpenTradeWaitFillTimeoutNoFill(t *testing.T) {
	// The entry order never fills and no position appears. The pending
	// order must be canceled and position_closed reported false.
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	mock.MarketOrderFn = func(params venue.MarketOrderParams) (*venue.OrderResponse, error) {
		return &venue.OrderResponse{
			OrderID: 77, Symbol: params.Symbol,
			Status: string(venue.OrderStatusNew),
		}, nil
	}
	mock.GetOrderFn = func(symbol string, orderID int64) (*venue.Order, error) {
		return &venue.Order{OrderID: orderID, Symbol: symbol, Status: string(venue.OrderStatusNew)}, nil
	}
	var canceled []int64
	mock.CancelOrderFn = func(symbol string, orderID int64) error {
		canceled = append(canceled, orderID)
		return nil
	}

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Step != StepWaitFill || result.Reason != "WAIT_FILL_TIMEOUT" {
		t.Errorf("step/reason = %q/%q", result.Step, result.Reason)
	}
	if result.PositionClosed == nil || *result.PositionClosed {
		t.Error("position_closed must be false when nothing filled")
	}
	if len(canceled) != 1 || canceled[0] != 77 {
		t.Errorf("canceled = %v, want the pending entry 77", canceled)
	}
	if mock.OpenAlgoCount() != 0 {
		t.Errorf("conditional orders = %d, want none after timeout", mock.OpenAlgoCount())
	}
}

func TestOpenTradeLeverageSetOnce(t *testing.T) {
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	setCalls := 0
	mock.SetLeverageFn = func(symbol string, leverage int) (*venue.LeverageResponse, error) {
		setCalls++
		return &venue.LeverageResponse{Symbol: symbol, Leverage: leverage}, nil
	}

	r := tradingRules()
	if result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), r); !result.Success {
		t.Fatalf("first open: %+v", result)
	}
	if result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), r); !result.Success {
		t.Fatalf("second open: %+v", result)
	}
	if setCalls != 1 {
		t.Errorf("setLeverage calls = %d, want 1 for an unchanged value", setCalls)
	}

	// A different target leverage reaches the venue again
	r.MaxLeverage = 10
	if result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), r); !result.Success {
		t.Fatalf("third open: %+v", result)
	}
	if setCalls != 2 {
		t.Errorf("setLeverage calls = %d, want 2 after a leverage change", setCalls)
	}
}

func TestOpenTradeRejectsTinyNotional(t *testing.T) {
	mock := btcMock(50010, 10) // 10 USDT at 1% risk cannot clear min_qty
	env := newGuardEnv(t, mock)

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if result.Success || !strings.HasPrefix(result.Reason, "sizing:") {
		t.Errorf("result = %+v, want sizing rejection", result)
	}
}

func TestOpenTradePreflightCleansOrphans(t *testing.T) {
	mock := btcMock(50010, 10000)
	env := newGuardEnv(t, mock)

	// A stale SL from a previous position rests on the algo channel
	_, err := mock.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol: "BTCUSDT", Side: venue.SideSell,
		Type: venue.OrderTypeStopMarket, TriggerPrice: 48000,
		WorkingType: venue.WorkingTypeContractPrice, ClosePosition: true,
	})
	if err != nil {
		t.Fatalf("seeding orphan: %v", err)
	}

	result := env.guard.OpenTrade(context.Background(), "u1", mock, longSignal(), tradingRules())
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	// Orphan gone, exactly the fresh SL + TP remain
	if mock.OpenAlgoCount() != 2 {
		t.Errorf("conditional orders = %d, want 2", mock.OpenAlgoCount())
	}
}

func TestRepriceFixedPoint(t *testing.T) {
	mock := btcMock(50010, 10000)
	spec, err := symbols.NewCache(mock, nil).Get("BTCUSDT")
	if err != nil {
		t.Fatalf("spec: %v", err)
	}

	sig := longSignal()
	entry, stop, target := Reprice(sig, 50010, spec)

	// Feeding the repriced values back at the same mark changes nothing
	again := &signal.Signal{
		Symbol: "BTCUSDT", Direction: signal.DirectionBuy,
		Entry: entry, Stop: stop, Target: target, RR: sig.RR,
	}
	entry2, stop2, target2 := Reprice(again, 50010, spec)
	if entry2 != entry || stop2 != stop || target2 != target {
		t.Errorf("reprice not a fixed point: (%v,%v,%v) vs (%v,%v,%v)",
			entry, stop, target, entry2, stop2, target2)
	}
}

func TestCloseTrade(t *testing.T) {
	mock := btcMock(50500, 10000)
	env := newGuardEnv(t, mock)
	mock.SetPosition("BTCUSDT", 0.2, 50010)

	result := env.guard.CloseTrade(context.Background(), "u1", mock, "BTCUSDT", "")
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(env.trades.exits) != 1 || env.trades.exits[0] != database.ExitReasonGuardianClose {
		t.Errorf("exits = %v, want [guardian_close]", env.trades.exits)
	}

	// Closing again reports no position
	result = env.guard.CloseTrade(context.Background(), "u1", mock, "BTCUSDT", "")
	if result.Success || result.Reason != "no_open_position" {
		t.Errorf("result = %+v, want no_open_position", result)
	}
}

func TestCloseTradeManualReasonByPnL(t *testing.T) {
	tests := []struct {
		name  string
		mark  float64
		entry float64
		want  string
	}{
		{"profit", 50500, 50010, database.ExitReasonManualCloseWin},
		{"loss", 49500, 50010, database.ExitReasonManualCloseLost},
		{"flat", 50010, 50010, database.ExitReasonManualCloseBreakeven},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := btcMock(tt.mark, 10000)
			env := newGuardEnv(t, mock)
			mock.SetPosition("BTCUSDT", 0.2, tt.entry)

			result := env.guard.CloseTrade(context.Background(), "u1", mock, "BTCUSDT", "manual_close")
			if !result.Success {
				t.Fatalf("result = %+v", result)
			}
			if len(env.trades.exits) != 1 || env.trades.exits[0] != tt.want {
				t.Errorf("exits = %v, want [%s]", env.trades.exits, tt.want)
			}
		})
	}
}
