package symbols

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

const cacheTTL = 1 * time.Hour

type specEntry struct {
	spec      *Spec
	fetchedAt time.Time
}

type bracketEntry struct {
	maxLeverage int
	fetchedAt   time.Time
}

// Cache serves SymbolSpecs and max-leverage brackets, refreshed from
// the venue on miss or TTL expiry. On refresh failure a stale entry is
// served with a warning; a cold cache is a hard error.
type Cache struct {
	client venue.Client
	logger *logging.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	specs    map[string]specEntry
	brackets map[string]bracketEntry
	now      func() time.Time
}

// NewCache builds a cache backed by the given venue client. The client
// is typically the fleet's first account; exchangeInfo and brackets are
// account-independent.
func NewCache(client venue.Client, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.WithComponent("symbols")
	}
	return &Cache{
		client:   client,
		logger:   logger,
		ttl:      cacheTTL,
		specs:    make(map[string]specEntry),
		brackets: make(map[string]bracketEntry),
		now:      time.Now,
	}
}

// Get returns the Spec for a symbol, with MaxLeverage populated.
func (c *Cache) Get(symbol string) (*Spec, error) {
	symbol = strings.ToUpper(symbol)

	c.mu.RLock()
	entry, ok := c.specs[symbol]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return c.withLeverage(entry.spec)
	}

	spec, err := c.refreshSpec(symbol)
	if err != nil {
		if ok {
			c.logger.Warn("serving stale symbol spec",
				"symbol", symbol,
				"age", c.now().Sub(entry.fetchedAt).String(),
				"error", err)
			return c.withLeverage(entry.spec)
		}
		return nil, fmt.Errorf("symbol spec unavailable for %s: %w", symbol, err)
	}
	return c.withLeverage(spec)
}

// MaxLeverage returns the highest initial leverage across the symbol's
// notional brackets.
func (c *Cache) MaxLeverage(symbol string) (int, error) {
	symbol = strings.ToUpper(symbol)

	c.mu.RLock()
	entry, ok := c.brackets[symbol]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.maxLeverage, nil
	}

	maxLev, err := c.refreshBrackets(symbol)
	if err != nil {
		if ok {
			c.logger.Warn("serving stale leverage bracket",
				"symbol", symbol,
				"age", c.now().Sub(entry.fetchedAt).String(),
				"error", err)
			return entry.maxLeverage, nil
		}
		return 0, fmt.Errorf("leverage bracket unavailable for %s: %w", symbol, err)
	}
	return maxLev, nil
}

func (c *Cache) withLeverage(spec *Spec) (*Spec, error) {
	maxLev, err := c.MaxLeverage(spec.Symbol)
	if err != nil {
		return nil, err
	}
	cp := *spec
	cp.MaxLeverage = maxLev
	return &cp, nil
}

// refreshSpec refetches exchangeInfo and repopulates every symbol in
// one pass; exchangeInfo is a single venue call for the whole universe.
func (c *Cache) refreshSpec(symbol string) (*Spec, error) {
	info, err := c.client.GetExchangeInfo()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fetchedAt := c.now()
	var found *Spec
	for _, si := range info.Symbols {
		spec, err := specFromInfo(si)
		if err != nil {
			c.logger.Warn("skipping unparsable symbol filters", "symbol", si.Symbol, "error", err)
			continue
		}
		c.specs[si.Symbol] = specEntry{spec: spec, fetchedAt: fetchedAt}
		if si.Symbol == symbol {
			found = spec
		}
	}

	if found == nil {
		return nil, fmt.Errorf("symbol %s not listed on venue", symbol)
	}
	return found, nil
}

func (c *Cache) refreshBrackets(symbol string) (int, error) {
	brackets, err := c.client.GetLeverageBracket(symbol)
	if err != nil {
		return 0, err
	}

	maxLev := 0
	for _, sb := range brackets {
		if sb.Symbol != symbol {
			continue
		}
		for _, b := range sb.Brackets {
			if b.InitialLeverage > maxLev {
				maxLev = b.InitialLeverage
			}
		}
	}
	if maxLev == 0 {
		return 0, fmt.Errorf("no leverage brackets returned for %s", symbol)
	}

	c.mu.Lock()
	c.brackets[symbol] = bracketEntry{maxLeverage: maxLev, fetchedAt: c.now()}
	c.mu.Unlock()

	return maxLev, nil
}
