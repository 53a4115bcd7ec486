// Package livetrade stores the live-trade records shared with the
// external guardian. Records live in Redis under
// guardian:trades:{user}:{SYM} with a 7-day TTL; when Redis is
// unavailable an in-memory fallback keeps the process trading.
package livetrade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
)

const (
	// KeyPrefix is the Redis namespace for live trades.
	// Format: guardian:trades:{userID}:{SYMBOL}
	KeyPrefix = "guardian:trades"

	// TradeTTL keeps records around well past any realistic trade
	// lifetime so the guardian can still read a stale close.
	TradeTTL = 7 * 24 * time.Hour

	writeRetryDelay = 500 * time.Millisecond
)

// Trade is the record the guardian reads to drive trailing-stop
// progression. OriginalStop is write-once: once set it survives every
// later adjustment.
type Trade struct {
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	Entry        float64 `json:"entry"`
	Stop         float64 `json:"stop"`
	StopLoss     float64 `json:"stop_loss"` // mirror of Stop, guardian compatibility
	Target       float64 `json:"target"`
	Quantity     float64 `json:"quantity"`
	OriginalStop float64 `json:"original_stop,omitempty"`

	// Trailing-stop progression metadata
	TSLevelApplied   string  `json:"ts_level_applied,omitempty"`
	TSPreviousLevel  string  `json:"ts_previous_level,omitempty"`
	TSPreviousStop   float64 `json:"ts_previous_stop,omitempty"`
	TSLastAdjustTS   string  `json:"ts_last_adjustment_ts,omitempty"`
	TSLastAdjustStop float64 `json:"ts_last_adjustment_stop,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists live trades with Redis primary and memory fallback.
type Store struct {
	client    *redis.Client
	logger    *logging.Logger
	mem       map[string]*Trade
	memMu     sync.RWMutex
	available atomic.Bool
	sleep     func(time.Duration)
}

// NewStore creates a live-trade store. A nil client means memory-only.
func NewStore(client *redis.Client, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.WithComponent("livetrade")
	}
	s := &Store{
		client: client,
		logger: logger,
		mem:    make(map[string]*Trade),
		sleep:  time.Sleep,
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable at startup, using in-memory fallback", "error", err)
			s.available.Store(false)
		} else {
			logger.Info("redis connected for live trades")
			s.available.Store(true)
		}
	}
	return s
}

// Key returns the Redis key for (user, symbol).
func Key(userID, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, userID, strings.ToUpper(symbol))
}

// Get returns the live trade for (user, symbol), nil if none.
func (s *Store) Get(ctx context.Context, userID, symbol string) (*Trade, error) {
	key := Key(userID, symbol)

	if s.client != nil && s.available.Load() {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			trade := &Trade{}
			if err := json.Unmarshal(data, trade); err != nil {
				return nil, fmt.Errorf("corrupt live trade at %s: %w", key, err)
			}
			return trade, nil
		}
		if err == redis.Nil {
			return nil, nil
		}
		s.logger.Warn("redis read failed, falling back to memory", "key", key, "error", err)
	}

	s.memMu.RLock()
	defer s.memMu.RUnlock()
	if trade, ok := s.mem[key]; ok {
		cp := *trade
		return &cp, nil
	}
	return nil, nil
}

// Put writes the record, retrying the Redis write once after 500 ms.
// The returned bool reports whether the shared cache is in sync: false
// means only the in-memory fallback holds the record.
func (s *Store) Put(ctx context.Context, userID string, trade *Trade) (bool, error) {
	trade.Symbol = strings.ToUpper(trade.Symbol)
	trade.StopLoss = trade.Stop
	trade.UpdatedAt = time.Now().UTC()
	key := Key(userID, trade.Symbol)

	cp := *trade
	s.memMu.Lock()
	s.mem[key] = &cp
	s.memMu.Unlock()

	if s.client == nil {
		return false, nil
	}

	data, err := json.Marshal(trade)
	if err != nil {
		return false, fmt.Errorf("encoding live trade: %w", err)
	}

	err = s.client.Set(ctx, key, data, TradeTTL).Err()
	if err == nil {
		s.available.Store(true)
		return true, nil
	}
	s.logger.Warn("redis write failed, retrying once", "key", key, "error", err)

	s.sleep(writeRetryDelay)
	if err := s.client.Set(ctx, key, data, TradeTTL).Err(); err != nil {
		s.available.Store(false)
		s.logger.Error("redis write failed after retry, cache out of sync", "key", key, "error", err)
		return false, nil
	}
	s.available.Store(true)
	return true, nil
}

// Delete removes the record on trade close.
func (s *Store) Delete(ctx context.Context, userID, symbol string) error {
	key := Key(userID, symbol)

	s.memMu.Lock()
	delete(s.mem, key)
	s.memMu.Unlock()

	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("redis delete failed", "key", key, "error", err)
		return err
	}
	return nil
}

// ApplyAdjustment mutates the stored record for a successful stop
// adjustment and reports whether the shared cache accepted the write.
// previousStop is the trigger of the stop order that was replaced (0 if
// none existed). OriginalStop is preserved if already set, otherwise
// initialized from previousStop (or the new stop when there was no
// prior order).
func (s *Store) ApplyAdjustment(ctx context.Context, userID, symbol string, newStop, previousStop float64, levelName, previousLevel string) (bool, error) {
	trade, err := s.Get(ctx, userID, symbol)
	if err != nil {
		return false, err
	}
	if trade == nil {
		trade = &Trade{Symbol: strings.ToUpper(symbol)}
	}

	if levelName == "" {
		levelName = "manual_adjust"
	}

	if trade.OriginalStop == 0 {
		if previousStop != 0 {
			trade.OriginalStop = previousStop
		} else {
			trade.OriginalStop = newStop
		}
	}

	trade.TSPreviousLevel = trade.TSLevelApplied
	if previousLevel != "" {
		trade.TSPreviousLevel = previousLevel
	}
	trade.TSPreviousStop = previousStop
	trade.TSLevelApplied = levelName
	trade.TSLastAdjustTS = time.Now().UTC().Format(time.RFC3339)
	trade.TSLastAdjustStop = newStop
	trade.Stop = newStop

	return s.Put(ctx, userID, trade)
}
