package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// TradeRepo persists TradeRecords.
type TradeRepo struct {
	db *DB
}

// NewTradeRepo creates a trade repository
func NewTradeRepo(db *DB) *TradeRepo {
	return &TradeRepo{db: db}
}

// Insert stores a freshly opened trade. Only exit fields and pnl are
// mutable afterwards.
func (r *TradeRepo) Insert(ctx context.Context, trade *TradeRecord) error {
	trade.Symbol = strings.ToLower(trade.Symbol)
	if trade.ExitReason == "" {
		trade.ExitReason = ExitReasonActive
	}

	query := `
		INSERT INTO trade_records (
			user_id, strategy, symbol, direction,
			entry_order_id, sl_order_id, tp_order_id,
			entry_price, stop_loss, take_profit, quantity,
			rr, leverage, capital_risked, probability,
			ev, simulated_probability, grok_probability,
			grok_action, grok_confidence, grok_risk_level, grok_timing_quality, grok_key_factor,
			rules_snapshot, signal_timestamp, exit_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		trade.UserID, trade.Strategy, trade.Symbol, trade.Direction,
		trade.EntryOrderID, trade.SLOrderID, trade.TPOrderID,
		trade.EntryPrice, trade.StopLoss, trade.TakeProfit, trade.Quantity,
		trade.RR, trade.Leverage, trade.CapitalRisked, trade.Probability,
		trade.EV, trade.SimulatedProbability, trade.GrokProbability,
		trade.GrokAction, trade.GrokConfidence, trade.GrokRiskLevel, trade.GrokTimingQuality, trade.GrokKeyFactor,
		trade.RulesSnapshot, trade.SignalTimestamp, trade.ExitReason,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
}

// UpdateExit closes the active trade for (user, symbol) and mirrors the
// closed-lifecycle summary into trade_history.
func (r *TradeRepo) UpdateExit(ctx context.Context, userID, symbol, exitReason string, exitPrice, pnl float64) error {
	symbol = strings.ToLower(symbol)
	now := time.Now().UTC()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning exit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var trade TradeRecord
	err = tx.QueryRow(ctx, `
		UPDATE trade_records
		SET exit_reason = $3, exit_time = $4, exit_price = $5, pnl = $6, updated_at = $4
		WHERE id = (
			SELECT id FROM trade_records
			WHERE user_id = $1 AND symbol = $2 AND exit_reason = 'active'
			ORDER BY created_at DESC LIMIT 1
		)
		RETURNING id, strategy, direction, entry_price, quantity
	`, userID, symbol, exitReason, now, exitPrice, pnl).Scan(
		&trade.ID, &trade.Strategy, &trade.Direction, &trade.EntryPrice, &trade.Quantity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no active trade for %s/%s", userID, symbol)
		}
		return fmt.Errorf("updating trade exit: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trade_history (user_id, strategy, symbol, direction, entry_price, exit_price, quantity, pnl, exit_reason, exit_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, userID, trade.Strategy, symbol, trade.Direction, trade.EntryPrice, exitPrice, trade.Quantity, pnl, exitReason, now)
	if err != nil {
		return fmt.Errorf("recording trade history: %w", err)
	}

	return tx.Commit(ctx)
}

// GetActive returns the open trade for (user, symbol), nil if none.
func (r *TradeRepo) GetActive(ctx context.Context, userID, symbol string) (*TradeRecord, error) {
	symbol = strings.ToLower(symbol)
	query := `
		SELECT id, user_id, strategy, symbol, direction,
		       entry_order_id, sl_order_id, tp_order_id,
		       entry_price, stop_loss, take_profit, quantity,
		       rr, leverage, capital_risked, probability, exit_reason, created_at, updated_at
		FROM trade_records
		WHERE user_id = $1 AND symbol = $2 AND exit_reason = 'active'
		ORDER BY created_at DESC LIMIT 1
	`
	trade := &TradeRecord{}
	err := r.db.Pool.QueryRow(ctx, query, userID, symbol).Scan(
		&trade.ID, &trade.UserID, &trade.Strategy, &trade.Symbol, &trade.Direction,
		&trade.EntryOrderID, &trade.SLOrderID, &trade.TPOrderID,
		&trade.EntryPrice, &trade.StopLoss, &trade.TakeProfit, &trade.Quantity,
		&trade.RR, &trade.Leverage, &trade.CapitalRisked, &trade.Probability,
		&trade.ExitReason, &trade.CreatedAt, &trade.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return trade, nil
}
