// Package price fetches fresh mark-price and top-of-book snapshots.
// Unlike the symbol spec cache these are never cached in-process; an
// optional shared Redis cache with a short TTL can absorb fan-out
// bursts across processes.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// sharedTTL keeps the shared cache well inside the staleness windows
// the guardian validates against.
const sharedTTL = 10 * time.Second

// Snapshot is the price state of one symbol at one instant.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Mark      float64   `json:"mark"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how old the snapshot is.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.FetchedAt)
}

// View resolves snapshots through an optional shared cache, falling
// back to the venue.
type View struct {
	client venue.Client
	rdb    *redis.Client // nil disables the shared cache
	logger *logging.Logger
}

// NewView builds a View. rdb may be nil.
func NewView(client venue.Client, rdb *redis.Client, logger *logging.Logger) *View {
	if logger == nil {
		logger = logging.WithComponent("price")
	}
	return &View{client: client, rdb: rdb, logger: logger}
}

// Mark returns just the current mark price, always direct from venue.
func (v *View) Mark(symbol string) (float64, error) {
	mp, err := v.client.GetMarkPrice(symbol)
	if err != nil {
		return 0, err
	}
	return mp.MarkPrice, nil
}

// Snapshot returns mark plus top-of-book. The shared cache is consulted
// first when configured; cache errors degrade to a direct fetch.
func (v *View) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	if v.rdb != nil {
		if snap := v.fromShared(ctx, symbol); snap != nil {
			return snap, nil
		}
	}

	snap, err := v.fetch(symbol)
	if err != nil {
		return nil, err
	}

	if v.rdb != nil {
		v.toShared(ctx, snap)
	}
	return snap, nil
}

func (v *View) fetch(symbol string) (*Snapshot, error) {
	mp, err := v.client.GetMarkPrice(symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching mark price: %w", err)
	}

	book, err := v.client.GetOrderBook(symbol, 5)
	if err != nil {
		return nil, fmt.Errorf("fetching order book: %w", err)
	}

	snap := &Snapshot{
		Symbol:    symbol,
		Mark:      mp.MarkPrice,
		FetchedAt: time.Now(),
	}
	if len(book.Bids) > 0 {
		snap.BestBid, _ = strconv.ParseFloat(book.Bids[0][0], 64)
	}
	if len(book.Asks) > 0 {
		snap.BestAsk, _ = strconv.ParseFloat(book.Asks[0][0], 64)
	}
	return snap, nil
}

func sharedKey(symbol string) string {
	return "ginie:price:" + symbol
}

func (v *View) fromShared(ctx context.Context, symbol string) *Snapshot {
	data, err := v.rdb.Get(ctx, sharedKey(symbol)).Bytes()
	if err != nil {
		if err != redis.Nil {
			v.logger.Debug("shared price cache read failed", "symbol", symbol, "error", err)
		}
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	if time.Since(snap.FetchedAt) > sharedTTL {
		return nil
	}
	return &snap
}

func (v *View) toShared(ctx context.Context, snap *Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := v.rdb.Set(ctx, sharedKey(snap.Symbol), data, sharedTTL).Err(); err != nil {
		v.logger.Debug("shared price cache write failed", "symbol", snap.Symbol, "error", err)
	}
}
