package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

var flattenBackoff = []time.Duration{
	2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
}

const flattenFallbackAttempts = 2

// EmergencyFlatten force-closes a filled position. Returns true when
// the position is confirmed flat. A false return means every attempt
// failed; a CRITICAL log entry with the position details has already
// been emitted and must reach a human.
func (g *Guard) EmergencyFlatten(userID string, client venue.Client, symbol string, entrySide venue.OrderSide, quantity float64) bool {
	log := g.logger.WithField("user", userID).WithField("symbol", symbol)
	closeSide := entrySide.Opposite()

	for attempt := 0; attempt < len(flattenBackoff); attempt++ {
		if attempt > 0 {
			g.sleep(flattenBackoff[attempt-1])
		}

		_, err := client.CreateMarketOrder(venue.MarketOrderParams{
			Symbol:        symbol,
			Side:          closeSide,
			ClosePosition: true,
		})
		if err != nil {
			log.Warn("flatten attempt failed", "attempt", attempt+1, "error", err)
		}

		// The close may have landed even when the response errored, so
		// the positions query decides, not the order response.
		if g.confirmedFlat(client, symbol) {
			log.Info("position flattened", "attempt", attempt+1)
			g.cancelAllConditionals(client, symbol)
			return true
		}
	}

	// closePosition keeps failing; fall back to an explicit
	// reduce-only order for the known quantity.
	for attempt := 0; attempt < flattenFallbackAttempts; attempt++ {
		_, err := client.CreateMarketOrder(venue.MarketOrderParams{
			Symbol:     symbol,
			Side:       closeSide,
			Quantity:   quantity,
			ReduceOnly: true,
		})
		if err != nil {
			log.Warn("reduce-only fallback failed", "attempt", attempt+1, "error", err)
		}
		if g.confirmedFlat(client, symbol) {
			log.Info("position flattened via reduce-only fallback", "attempt", attempt+1)
			g.cancelAllConditionals(client, symbol)
			return true
		}
	}

	log.Critical("NAKED POSITION: emergency flatten exhausted, close manually NOW",
		"user", userID,
		"symbol", symbol,
		"side", string(entrySide),
		"quantity", quantity)
	return false
}

func (g *Guard) confirmedFlat(client venue.Client, symbol string) bool {
	positions, err := client.GetPositions(symbol)
	if err != nil {
		return false
	}
	for _, pos := range positions {
		if pos.PositionAmt != 0 {
			return false
		}
	}
	return true
}

func (g *Guard) cancelAllConditionals(client venue.Client, symbol string) {
	orders, err := client.GetOpenOrders(symbol)
	if err == nil {
		for _, o := range orders {
			if o.Type == string(venue.OrderTypeStopMarket) || o.Type == string(venue.OrderTypeTakeProfitMarket) {
				if err := client.CancelOrder(symbol, o.OrderID); err != nil {
					g.logger.Warn("straggler cancel failed", "symbol", symbol, "order_id", o.OrderID, "error", err)
				}
			}
		}
	}
	algoOrders, err := client.GetOpenConditionalOrders(symbol)
	if err == nil {
		for _, o := range algoOrders {
			if err := client.CancelConditionalOrder(symbol, o.AlgoID); err != nil {
				g.logger.Warn("straggler conditional cancel failed", "symbol", symbol, "algo_id", o.AlgoID, "error", err)
			}
		}
	}
}

// CloseTrade flattens the open position for (user, symbol), records the
// exit and drops the live-trade record. Used by the guardian close
// action and the manual close path.
func (g *Guard) CloseTrade(ctx context.Context, userID string, client venue.Client, symbol, exitReason string) *Result {
	positions, err := client.GetPositions(symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("positions:%v", err)}
	}

	var pos *venue.Position
	for i := range positions {
		if positions[i].PositionAmt != 0 {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return &Result{Reason: "no_open_position"}
	}

	entrySide := venue.SideBuy
	if pos.PositionAmt < 0 {
		entrySide = venue.SideSell
	}
	quantity := abs(pos.PositionAmt)
	exitPrice := pos.MarkPrice

	closed := g.EmergencyFlatten(userID, client, symbol, entrySide, quantity)
	result := &Result{
		Success:        closed,
		Quantity:       quantity,
		Entry:          pos.EntryPrice,
		PositionClosed: boolPtr(closed),
	}
	if !closed {
		result.Reason = "safety:flatten_failed"
		return result
	}

	pnl := (exitPrice - pos.EntryPrice) * pos.PositionAmt
	switch exitReason {
	case "":
		exitReason = database.ExitReasonGuardianClose
	case "manual_close":
		// Callers asking for a manual close get the reason resolved by
		// realized pnl sign.
		switch {
		case pnl > 0:
			exitReason = database.ExitReasonManualCloseWin
		case pnl < 0:
			exitReason = database.ExitReasonManualCloseLost
		default:
			exitReason = database.ExitReasonManualCloseBreakeven
		}
	}
	if g.trades != nil {
		if err := g.trades.UpdateExit(ctx, userID, symbol, exitReason, exitPrice, pnl); err != nil {
			g.logger.Error("exit record update failed", "user", userID, "symbol", symbol, "error", err)
		}
	}
	if g.live != nil {
		if err := g.live.Delete(ctx, userID, symbol); err != nil {
			g.logger.Warn("live trade delete failed", "user", userID, "symbol", symbol, "error", err)
		}
	}
	return result
}
