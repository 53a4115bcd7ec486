package livetrade

import (
	"context"
	"testing"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
)

func memStore() *Store {
	return NewStore(nil, logging.New(&logging.Config{Level: "CRITICAL", Output: "stderr"}))
}

func TestKey(t *testing.T) {
	if got := Key("u1", "btcusdt"); got != "guardian:trades:u1:BTCUSDT" {
		t.Errorf("key = %q, want guardian:trades:u1:BTCUSDT", got)
	}
}

func TestPutGetDelete(t *testing.T) {
	store := memStore()
	ctx := context.Background()

	trade := &Trade{
		Symbol:    "btcusdt",
		Direction: "BUY",
		Entry:     50010,
		Stop:      49510,
		Target:    51010,
		Quantity:  0.2,
	}
	synced, err := store.Put(ctx, "u1", trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synced {
		t.Error("memory-only store must report out-of-sync shared cache")
	}

	got, err := store.Get(ctx, "u1", "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected trade")
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", got.Symbol)
	}
	if got.StopLoss != got.Stop {
		t.Errorf("stop_loss = %v must mirror stop = %v", got.StopLoss, got.Stop)
	}

	if err := store.Delete(ctx, "u1", "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err = store.Get(ctx, "u1", "BTCUSDT")
	if err != nil || got != nil {
		t.Errorf("after delete: trade=%v err=%v, want nil/nil", got, err)
	}
}

func TestApplyAdjustmentOriginalStopWriteOnce(t *testing.T) {
	store := memStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "u1", &Trade{
		Symbol: "BTCUSDT", Direction: "BUY", Entry: 50010, Stop: 49510, Target: 51010,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First adjustment captures the replaced stop as original_stop
	if _, err := store.ApplyAdjustment(ctx, "u1", "BTCUSDT", 49800, 49510, "level_1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trade, _ := store.Get(ctx, "u1", "BTCUSDT")
	if trade.OriginalStop != 49510 {
		t.Errorf("original_stop = %v, want 49510", trade.OriginalStop)
	}
	if trade.Stop != 49800 || trade.TSLevelApplied != "level_1" {
		t.Errorf("stop = %v level = %q, want 49800/level_1", trade.Stop, trade.TSLevelApplied)
	}

	// Later adjustments must not touch original_stop
	if _, err := store.ApplyAdjustment(ctx, "u1", "BTCUSDT", 49950, 49800, "level_2", "level_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trade, _ = store.Get(ctx, "u1", "BTCUSDT")
	if trade.OriginalStop != 49510 {
		t.Errorf("original_stop changed to %v, must stay 49510", trade.OriginalStop)
	}
	if trade.TSPreviousLevel != "level_1" || trade.TSPreviousStop != 49800 {
		t.Errorf("previous level/stop = %q/%v, want level_1/49800", trade.TSPreviousLevel, trade.TSPreviousStop)
	}
	if trade.TSLastAdjustStop != 49950 {
		t.Errorf("last adjustment stop = %v, want 49950", trade.TSLastAdjustStop)
	}
}

func TestApplyAdjustmentDefaultsLevelName(t *testing.T) {
	store := memStore()
	ctx := context.Background()

	if _, err := store.ApplyAdjustment(ctx, "u1", "ETHUSDT", 2990, 0, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trade, _ := store.Get(ctx, "u1", "ETHUSDT")
	if trade.TSLevelApplied != "manual_adjust" {
		t.Errorf("level = %q, want manual_adjust", trade.TSLevelApplied)
	}
	// No prior stop: original_stop initializes from the new stop
	if trade.OriginalStop != 2990 {
		t.Errorf("original_stop = %v, want 2990", trade.OriginalStop)
	}
}
