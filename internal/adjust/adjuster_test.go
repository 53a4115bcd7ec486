package adjust

import (
	"context"
	"strings"
	"testing"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/livetrade"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/symbols"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

func btcMock(mark float64) *venue.Mock {
	mock := venue.NewMock(10000)
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
	return mock
}

func newAdjuster(mock *venue.Mock) (*Adjuster, *livetrade.Store) {
	logger := logging.New(&logging.Config{Level: "CRITICAL", Output: "stderr"})
	live := livetrade.NewStore(nil, logger)
	return New(symbols.NewCache(mock, logger), price.NewView(mock, nil, logger), live, logger), live
}

func seedStop(t *testing.T, mock *venue.Mock, trigger float64) {
	t.Helper()
	_, err := mock.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol: "BTCUSDT", Side: venue.SideSell,
		Type: venue.OrderTypeStopMarket, TriggerPrice: trigger,
		WorkingType: venue.WorkingTypeContractPrice, ClosePosition: true,
	})
	if err != nil {
		t.Fatalf("seeding stop: %v", err)
	}
}

func TestAdjustStopTightensLong(t *testing.T) {
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	seedStop(t, mock, 49500)
	adjuster, live := newAdjuster(mock)

	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 49700, &LevelMetadata{LevelName: "level_1"})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.NewStop != 49700 || result.PreviousStop != 49500 {
		t.Errorf("stops = %v/%v, want new 49700 previous 49500", result.NewStop, result.PreviousStop)
	}

	// Exactly one stop rests, at the new trigger
	orders, _ := mock.GetOpenConditionalOrders("BTCUSDT")
	if len(orders) != 1 || orders[0].TriggerPrice != 49700 {
		t.Errorf("open stops = %+v, want single at 49700", orders)
	}

	trade, _ := live.Get(context.Background(), "u1", "BTCUSDT")
	if trade == nil || trade.Stop != 49700 {
		t.Fatalf("live trade = %+v, want stop 49700", trade)
	}
	if trade.OriginalStop != 49500 {
		t.Errorf("original_stop = %v, want 49500", trade.OriginalStop)
	}
	if trade.TSLevelApplied != "level_1" {
		t.Errorf("level = %q, want level_1", trade.TSLevelApplied)
	}
}

func TestAdjustStopRejectsLooser(t *testing.T) {
	// Live LONG with SL 49500; moving down to 49400 must be refused
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	seedStop(t, mock, 49500)
	adjuster, live := newAdjuster(mock)

	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 49400, nil)
	if result.Success {
		t.Fatal("expected rejection")
	}
	want := "looser_stop_not_allowed(current 49500, new 49400)"
	if result.Reason != want {
		t.Errorf("reason = %q, want %q", result.Reason, want)
	}

	// Venue and live trade untouched
	orders, _ := mock.GetOpenConditionalOrders("BTCUSDT")
	if len(orders) != 1 || orders[0].TriggerPrice != 49500 {
		t.Errorf("open stops = %+v, want untouched 49500", orders)
	}
	if trade, _ := live.Get(context.Background(), "u1", "BTCUSDT"); trade != nil {
		t.Errorf("live trade = %+v, want none written", trade)
	}
}

func TestAdjustStopEqualStopIsNoOpAllowed(t *testing.T) {
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	seedStop(t, mock, 49700)
	adjuster, _ := newAdjuster(mock)

	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 49700, nil)
	if !result.Success {
		t.Errorf("equal stop must pass tighten check, got %+v", result)
	}
}

func TestAdjustStopShortDirection(t *testing.T) {
	mock := btcMock(49500)
	mock.SetPosition("BTCUSDT", -0.2, 50000)
	adjuster, _ := newAdjuster(mock)

	_, err := mock.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol: "BTCUSDT", Side: venue.SideBuy,
		Type: venue.OrderTypeStopMarket, TriggerPrice: 50300,
		WorkingType: venue.WorkingTypeContractPrice, ClosePosition: true,
	})
	if err != nil {
		t.Fatalf("seeding stop: %v", err)
	}

	// SHORT tightens downward
	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 50100, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	// And rejects an upward move
	result = adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 50200, nil)
	if result.Success || !strings.HasPrefix(result.Reason, "looser_stop_not_allowed") {
		t.Errorf("result = %+v, want looser rejection", result)
	}
}

func TestAdjustStopSideSanity(t *testing.T) {
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	adjuster, _ := newAdjuster(mock)

	// LONG stop at or above mark would trigger instantly
	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 50100, nil)
	if result.Success || !strings.HasPrefix(result.Reason, "invariant:stop_above_mark") {
		t.Errorf("result = %+v, want stop_above_mark", result)
	}
}

func TestAdjustStopFlatPosition(t *testing.T) {
	mock := btcMock(50050)
	adjuster, _ := newAdjuster(mock)

	result := adjuster.AdjustStop(context.Background(), "u1", mock, "BTCUSDT", 49700, nil)
	if result.Success || result.Reason != "no_open_position" {
		t.Errorf("result = %+v, want no_open_position", result)
	}
}

func TestHalfCloseMoveBE(t *testing.T) {
	// LONG 0.2 from 49800, mark 50050, SL at 49500
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	seedStop(t, mock, 49500)
	adjuster, live := newAdjuster(mock)

	result := adjuster.HalfCloseMoveBE(context.Background(), "u1", mock, "BTCUSDT")
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	positions, _ := mock.GetPositions("BTCUSDT")
	if len(positions) != 1 || positions[0].PositionAmt != 0.1 {
		t.Fatalf("positions = %+v, want 0.1 remaining", positions)
	}

	// Stop moved to break-even (entry 49800, below mark, no nudge)
	orders, _ := mock.GetOpenConditionalOrders("BTCUSDT")
	if len(orders) != 1 || orders[0].TriggerPrice != 49800 {
		t.Errorf("stops = %+v, want single at 49800", orders)
	}

	trade, _ := live.Get(context.Background(), "u1", "BTCUSDT")
	if trade == nil || trade.TSLevelApplied != "half_close_breakeven" {
		t.Errorf("live trade = %+v, want half_close_breakeven level", trade)
	}
}

func TestHalfCloseBEAlreadyTighter(t *testing.T) {
	// Existing stop already above break-even; the half close stands
	// and the stop is left alone.
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.2, 49800)
	seedStop(t, mock, 49900)
	adjuster, _ := newAdjuster(mock)

	result := adjuster.HalfCloseMoveBE(context.Background(), "u1", mock, "BTCUSDT")
	if !result.Success || result.Note != "BE stop unchanged" {
		t.Errorf("result = %+v, want success with BE stop unchanged", result)
	}

	orders, _ := mock.GetOpenConditionalOrders("BTCUSDT")
	if len(orders) != 1 || orders[0].TriggerPrice != 49900 {
		t.Errorf("stops = %+v, want untouched 49900", orders)
	}
}

func TestHalfCloseTooSmall(t *testing.T) {
	mock := btcMock(50050)
	mock.SetPosition("BTCUSDT", 0.001, 49800)
	adjuster, _ := newAdjuster(mock)

	result := adjuster.HalfCloseMoveBE(context.Background(), "u1", mock, "BTCUSDT")
	if result.Success || !strings.HasPrefix(result.Reason, "half_close:qty_below_min") {
		t.Errorf("result = %+v, want qty_below_min", result)
	}
}
