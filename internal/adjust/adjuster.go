// Package adjust implements tighten-only stop-loss maintenance on live
// positions: direct adjustments from the guardian's trailing levels and
// the half-close-plus-break-even maneuver.
package adjust

import (
	"context"
	"fmt"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/livetrade"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/symbols"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// LevelMetadata describes the trailing-stop level that produced an
// adjustment, carried through to the live-trade record.
type LevelMetadata struct {
	LevelName         string  `json:"level_name"`
	LevelThresholdPct float64 `json:"level_threshold_pct,omitempty"`
	PreviousLevel     string  `json:"previous_level,omitempty"`
}

// Result is the outcome of one adjustment.
type Result struct {
	Success      bool    `json:"success"`
	Reason       string  `json:"reason,omitempty"`
	Note         string  `json:"note,omitempty"`
	NewStop      float64 `json:"new_stop,omitempty"`
	PreviousStop float64 `json:"previous_stop,omitempty"`
	RedisUpdated *bool   `json:"redis_updated,omitempty"`
}

// Adjuster moves stops on live positions.
type Adjuster struct {
	specs  *symbols.Cache
	prices *price.View
	live   *livetrade.Store
	logger *logging.Logger
}

// New creates a stop adjuster
func New(specs *symbols.Cache, prices *price.View, live *livetrade.Store, logger *logging.Logger) *Adjuster {
	if logger == nil {
		logger = logging.WithComponent("adjust")
	}
	return &Adjuster{specs: specs, prices: prices, live: live, logger: logger}
}

// stopOrder is one resting stop, from either order channel.
type stopOrder struct {
	id           int64
	conditional  bool
	triggerPrice float64
}

// AdjustStop replaces the resting stop with a tighter one. The stop may
// only move toward the mark; a looser request is rejected. The venue
// change is authoritative: live-trade cache failures downgrade to an
// out-of-sync advisory, never a rollback.
func (a *Adjuster) AdjustStop(ctx context.Context, userID string, client venue.Client, symbol string, newStop float64, meta *LevelMetadata) *Result {
	pos, err := openPosition(client, symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("positions:%v", err)}
	}
	if pos == nil {
		return &Result{Reason: "no_open_position"}
	}
	long := pos.PositionAmt > 0

	spec, err := a.specs.Get(symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("symbol_spec:%v", err)}
	}
	newStop = spec.RoundPrice(newStop)
	if !spec.PriceInRange(newStop) {
		return &Result{Reason: fmt.Sprintf("invariant:stop_out_of_price_range:%g", newStop)}
	}

	stops, err := a.listStops(client, symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("open_orders:%v", err)}
	}

	var currentStop float64
	if len(stops) > 0 {
		currentStop = stops[0].triggerPrice
	}

	if currentStop != 0 {
		if long && newStop < currentStop {
			return &Result{
				Reason:       fmt.Sprintf("looser_stop_not_allowed(current %g, new %g)", currentStop, newStop),
				PreviousStop: currentStop,
			}
		}
		if !long && newStop > currentStop {
			return &Result{
				Reason:       fmt.Sprintf("looser_stop_not_allowed(current %g, new %g)", currentStop, newStop),
				PreviousStop: currentStop,
			}
		}
	}

	mark, err := a.prices.Mark(symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("mark_price:%v", err)}
	}
	if long && newStop >= mark {
		return &Result{Reason: fmt.Sprintf("invariant:stop_above_mark:%g>=%g", newStop, mark)}
	}
	if !long && newStop <= mark {
		return &Result{Reason: fmt.Sprintf("invariant:stop_below_mark:%g<=%g", newStop, mark)}
	}

	for _, stop := range stops {
		var cancelErr error
		if stop.conditional {
			cancelErr = client.CancelConditionalOrder(symbol, stop.id)
		} else {
			cancelErr = client.CancelOrder(symbol, stop.id)
		}
		if cancelErr != nil {
			a.logger.Warn("stop cancel failed", "symbol", symbol, "order_id", stop.id, "error", cancelErr)
		}
	}

	closeSide := venue.SideSell
	if !long {
		closeSide = venue.SideBuy
	}
	if _, err := client.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol:        symbol,
		Side:          closeSide,
		Type:          venue.OrderTypeStopMarket,
		TriggerPrice:  newStop,
		WorkingType:   venue.WorkingTypeContractPrice,
		ClosePosition: true,
	}); err != nil {
		return &Result{Reason: fmt.Sprintf("stop_create:%v", err), PreviousStop: currentStop}
	}

	levelName, previousLevel := "", ""
	if meta != nil {
		levelName = meta.LevelName
		previousLevel = meta.PreviousLevel
	}
	synced, err := a.live.ApplyAdjustment(ctx, userID, symbol, newStop, currentStop, levelName, previousLevel)
	if err != nil {
		a.logger.Error("live trade sync failed", "user", userID, "symbol", symbol, "error", err)
		synced = false
	}

	a.logger.Info("stop adjusted",
		"user", userID, "symbol", symbol,
		"previous", currentStop, "new", newStop, "level", levelName)
	return &Result{
		Success:      true,
		NewStop:      newStop,
		PreviousStop: currentStop,
		RedisUpdated: &synced,
	}
}

// HalfCloseMoveBE realizes half the position and parks the stop at
// break-even.
func (a *Adjuster) HalfCloseMoveBE(ctx context.Context, userID string, client venue.Client, symbol string) *Result {
	pos, err := openPosition(client, symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("positions:%v", err)}
	}
	if pos == nil {
		return &Result{Reason: "no_open_position"}
	}
	long := pos.PositionAmt > 0

	spec, err := a.specs.Get(symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("symbol_spec:%v", err)}
	}

	mark, err := a.prices.Mark(symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("mark_price:%v", err)}
	}

	qtyHalf := spec.RoundQty(abs(pos.PositionAmt) / 2)
	if qtyHalf < spec.MinQty.InexactFloat64() {
		return &Result{Reason: fmt.Sprintf("half_close:qty_below_min:%g", qtyHalf)}
	}
	if qtyHalf*mark < spec.MinNotional.InexactFloat64() {
		return &Result{Reason: fmt.Sprintf("half_close:notional_below_min:%.2f", qtyHalf*mark)}
	}

	closeSide := venue.SideSell
	if !long {
		closeSide = venue.SideBuy
	}
	if _, err := client.CreateMarketOrder(venue.MarketOrderParams{
		Symbol:     symbol,
		Side:       closeSide,
		Quantity:   qtyHalf,
		ReduceOnly: true,
	}); err != nil {
		return &Result{Reason: fmt.Sprintf("half_close:%v", err)}
	}

	remaining, err := openPosition(client, symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("positions:%v", err)}
	}
	if remaining == nil {
		// Rounding consumed the whole position
		a.cancelStragglers(client, symbol)
		if delErr := a.live.Delete(ctx, userID, symbol); delErr != nil {
			a.logger.Warn("live trade delete failed", "user", userID, "symbol", symbol, "error", delErr)
		}
		return &Result{Success: true, Note: "fully closed"}
	}

	be := spec.RoundPrice(remaining.EntryPrice)
	tick := spec.Tick()
	if long && be >= mark {
		be = spec.RoundPrice(be - tick)
	} else if !long && be <= mark {
		be = spec.RoundPrice(be + tick)
	}

	adjusted := a.AdjustStop(ctx, userID, client, symbol, be, &LevelMetadata{LevelName: "half_close_breakeven"})
	if !adjusted.Success {
		// The existing stop may already sit tighter than break-even;
		// the half close itself stands.
		return &Result{Success: true, Note: "BE stop unchanged", Reason: adjusted.Reason}
	}
	adjusted.Note = "half closed, stop at break-even"
	return adjusted
}

func (a *Adjuster) listStops(client venue.Client, symbol string) ([]stopOrder, error) {
	var stops []stopOrder

	orders, err := client.GetOpenOrders(symbol)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Type == string(venue.OrderTypeStopMarket) {
			stops = append(stops, stopOrder{id: o.OrderID, triggerPrice: o.StopPrice})
		}
	}

	algoOrders, err := client.GetOpenConditionalOrders(symbol)
	if err != nil {
		return nil, err
	}
	for _, o := range algoOrders {
		if o.OrderType == string(venue.OrderTypeStopMarket) {
			stops = append(stops, stopOrder{id: o.AlgoID, conditional: true, triggerPrice: o.TriggerPrice})
		}
	}
	return stops, nil
}

func (a *Adjuster) cancelStragglers(client venue.Client, symbol string) {
	if orders, err := client.GetOpenOrders(symbol); err == nil {
		for _, o := range orders {
			if o.Type == string(venue.OrderTypeStopMarket) || o.Type == string(venue.OrderTypeTakeProfitMarket) {
				if err := client.CancelOrder(symbol, o.OrderID); err != nil {
					a.logger.Warn("straggler cancel failed", "symbol", symbol, "order_id", o.OrderID, "error", err)
				}
			}
		}
	}
	if algoOrders, err := client.GetOpenConditionalOrders(symbol); err == nil {
		for _, o := range algoOrders {
			if err := client.CancelConditionalOrder(symbol, o.AlgoID); err != nil {
				a.logger.Warn("straggler conditional cancel failed", "symbol", symbol, "algo_id", o.AlgoID, "error", err)
			}
		}
	}
}

func openPosition(client venue.Client, symbol string) (*venue.Position, error) {
	positions, err := client.GetPositions(symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].PositionAmt != 0 {
			return &positions[i], nil
		}
	}
	return nil, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
