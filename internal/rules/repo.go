package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
)

const repoCacheTTL = 5 * time.Minute

type cachedRules struct {
	rules     *UserRules
	banned    []string
	fetchedAt time.Time
}

// Repo loads UserRules from the user_rules table, with a short
// in-process cache so per-signal fan-out does not hammer the store.
type Repo struct {
	db *database.DB

	mu    sync.RWMutex
	cache map[string]cachedRules
	now   func() time.Time
}

// NewRepo creates a rules repository
func NewRepo(db *database.DB) *Repo {
	return &Repo{
		db:    db,
		cache: make(map[string]cachedRules),
		now:   time.Now,
	}
}

func cacheKey(userID, strategy string) string {
	return userID + "|" + strategy
}

// Get returns the rules for (user, strategy), nil if none configured.
func (r *Repo) Get(ctx context.Context, userID, strategy string) (*UserRules, error) {
	key := cacheKey(userID, strategy)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Sub(entry.fetchedAt) < repoCacheTTL {
		return entry.rules, nil
	}

	var raw []byte
	var banned []string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT rules_config, banned_symbols
		FROM user_rules
		WHERE user_id = $1 AND strategy = $2
	`, userID, strategy).Scan(&raw, &banned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.store(key, nil, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("loading rules for %s/%s: %w", userID, strategy, err)
	}

	rules := &UserRules{}
	if err := json.Unmarshal(raw, rules); err != nil {
		return nil, fmt.Errorf("parsing rules for %s/%s: %w", userID, strategy, err)
	}

	for i, s := range banned {
		banned[i] = strings.ToLower(s)
	}
	r.store(key, rules, banned)
	return rules, nil
}

// BannedSymbols returns the banned list for (user, strategy), lowercase.
func (r *Repo) BannedSymbols(ctx context.Context, userID, strategy string) ([]string, error) {
	key := cacheKey(userID, strategy)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Sub(entry.fetchedAt) < repoCacheTTL {
		return entry.banned, nil
	}

	if _, err := r.Get(ctx, userID, strategy); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[key].banned, nil
}

// Upsert stores the rules for (user, strategy).
func (r *Repo) Upsert(ctx context.Context, userID, strategy string, rules *UserRules, banned []string) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	if banned == nil {
		banned = []string{}
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO user_rules (user_id, strategy, rules_config, banned_symbols)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, strategy)
		DO UPDATE SET rules_config = $3, banned_symbols = $4, updated_at = NOW()
	`, userID, strategy, raw, banned)
	if err != nil {
		return fmt.Errorf("storing rules for %s/%s: %w", userID, strategy, err)
	}

	r.mu.Lock()
	delete(r.cache, cacheKey(userID, strategy))
	r.mu.Unlock()
	return nil
}

func (r *Repo) store(key string, rules *UserRules, banned []string) {
	r.mu.Lock()
	r.cache[key] = cachedRules{rules: rules, banned: banned, fetchedAt: r.now()}
	r.mu.Unlock()
}
