package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// lossScanLimit bounds the consecutive-loss scan.
const lossScanLimit = 50

// HistoryRepo reads closed-trade summaries for cooldown and
// circuit-breaker decisions.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a history repository
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// LastClosedTrade returns the most recent closed trade for
// (user, strategy, symbol), nil if the symbol has never traded.
func (r *HistoryRepo) LastClosedTrade(ctx context.Context, userID, strategy, symbol string) (*ClosedTrade, error) {
	symbol = strings.ToLower(symbol)
	query := `
		SELECT id, user_id, strategy, symbol, direction, entry_price, exit_price, quantity, pnl, exit_reason, exit_time
		FROM trade_history
		WHERE user_id = $1 AND strategy = $2 AND symbol = $3
		ORDER BY exit_time DESC LIMIT 1
	`
	trade := &ClosedTrade{}
	err := r.db.Pool.QueryRow(ctx, query, userID, strategy, symbol).Scan(
		&trade.ID, &trade.UserID, &trade.Strategy, &trade.Symbol, &trade.Direction,
		&trade.EntryPrice, &trade.ExitPrice, &trade.Quantity, &trade.PnL,
		&trade.ExitReason, &trade.ExitTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return trade, nil
}

// ConsecutiveLosses scans the newest closed trades for (user, strategy)
// and tallies losses until the first win. The scan is capped at 50
// rows; a loss run longer than that is treated as 50.
func (r *HistoryRepo) ConsecutiveLosses(ctx context.Context, userID, strategy string) (*LossRun, error) {
	query := `
		SELECT exit_reason, exit_time
		FROM trade_history
		WHERE user_id = $1 AND strategy = $2
		ORDER BY exit_time DESC LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, strategy, lossScanLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	run := &LossRun{}
	for rows.Next() {
		var trade ClosedTrade
		if err := rows.Scan(&trade.ExitReason, &trade.ExitTime); err != nil {
			return nil, err
		}
		if !IsLosingExit(trade.ExitReason) {
			break
		}
		run.Count++
		if run.LastLossTime.IsZero() {
			// Rows come newest-first, so the first loss seen is the
			// most recent one.
			run.LastLossTime = trade.ExitTime
		}
	}
	return run, rows.Err()
}
