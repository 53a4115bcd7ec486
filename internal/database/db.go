package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.Info("database connection closed")
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	logging.Info("running database migrations")

	migrations := []string{
		// Open and closed trades, one row per execution. Symbols are
		// stored lowercase; the wire format is uppercase.
		`CREATE TABLE IF NOT EXISTS trade_records (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			strategy VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_order_id BIGINT,
			sl_order_id BIGINT,
			tp_order_id BIGINT,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			rr DECIMAL(10, 4),
			leverage INT,
			capital_risked DECIMAL(20, 8),
			probability DECIMAL(6, 2),
			ev DECIMAL(10, 4),
			simulated_probability DECIMAL(6, 2),
			grok_probability DECIMAL(6, 2),
			grok_action VARCHAR(16),
			grok_confidence VARCHAR(16),
			grok_risk_level VARCHAR(16),
			grok_timing_quality VARCHAR(16),
			grok_key_factor TEXT,
			rules_snapshot JSONB,
			signal_timestamp TIMESTAMPTZ,
			exit_reason VARCHAR(32) NOT NULL DEFAULT 'active',
			exit_time TIMESTAMPTZ,
			exit_price DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_user_symbol
			ON trade_records(user_id, strategy, symbol, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_active
			ON trade_records(user_id, symbol) WHERE exit_reason = 'active'`,

		// Closed-lifecycle summaries for cooldown and circuit-breaker scans
		`CREATE TABLE IF NOT EXISTS trade_history (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			strategy VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			quantity DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			exit_reason VARCHAR(32) NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_user_exit
			ON trade_history(user_id, strategy, exit_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_user_symbol
			ON trade_history(user_id, strategy, symbol, exit_time DESC)`,

		// Per-(user, strategy) rule configuration
		`CREATE TABLE IF NOT EXISTS user_rules (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			strategy VARCHAR(64) NOT NULL,
			rules_config JSONB NOT NULL,
			banned_symbols TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, strategy)
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	logging.Info("database migrations completed", "count", len(migrations))
	return nil
}
