// Package guard executes the entry-SL-TP critical section and owns the
// no-naked-position safety protocol.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/database"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/livetrade"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/price"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/rules"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/signal"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/symbols"
	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// Steps of the critical section, reported on every result.
const (
	StepMarketOrder = "MARKET_ORDER"
	StepWaitFill    = "WAIT_FILL"
	StepStopLoss    = "STOP_LOSS"
	StepTakeProfit  = "TAKE_PROFIT"
	StepException   = "EXCEPTION"
	StepAllOK       = "ALL_OK"
)

const (
	fillPollAttempts = 3
	fillPollInterval = 1 * time.Second
)

// Result is the outcome of one openTrade execution.
type Result struct {
	Success bool   `json:"success"`
	Step    string `json:"step,omitempty"`
	Reason  string `json:"reason,omitempty"`

	OrderID   int64 `json:"order_id,omitempty"`
	SLOrderID int64 `json:"sl_order_id,omitempty"`
	TPOrderID int64 `json:"tp_order_id,omitempty"`

	Entry    float64 `json:"entry,omitempty"`
	StopLoss float64 `json:"stop_loss,omitempty"`
	Target   float64 `json:"target,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
	Leverage int     `json:"leverage,omitempty"`
	RR       float64 `json:"rr,omitempty"`

	// PositionClosed is set when the safety protocol ran
	PositionClosed *bool `json:"position_closed,omitempty"`
	// RedisUpdated is false when the shared live-trade cache missed
	// the write after retry
	RedisUpdated *bool `json:"redis_updated,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// TradeStore is the persistence slice the guard needs.
type TradeStore interface {
	Insert(ctx context.Context, trade *database.TradeRecord) error
	UpdateExit(ctx context.Context, userID, symbol, exitReason string, exitPrice, pnl float64) error
}

// Guard runs the atomic entry protocol for one signal and one user.
type Guard struct {
	specs  *symbols.Cache
	prices *price.View
	trades TradeStore
	live   *livetrade.Store
	logger *logging.Logger
	sleep  func(time.Duration)

	levMu       sync.Mutex
	leverageSet map[string]int
}

// New creates a position guard
func New(specs *symbols.Cache, prices *price.View, trades TradeStore, live *livetrade.Store, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.WithComponent("guard")
	}
	return &Guard{
		specs:       specs,
		prices:      prices,
		trades:      trades,
		live:        live,
		logger:      logger,
		sleep:       time.Sleep,
		leverageSet: make(map[string]int),
	}
}

// applyLeverage issues setLeverage only when this process has not
// already set the same value for (user, symbol).
func (g *Guard) applyLeverage(client venue.Client, userID, symbol string, leverage int) error {
	key := userID + ":" + symbol
	g.levMu.Lock()
	current, ok := g.leverageSet[key]
	g.levMu.Unlock()
	if ok && current == leverage {
		return nil
	}
	if _, err := client.SetLeverage(symbol, leverage); err != nil {
		return err
	}
	g.levMu.Lock()
	g.leverageSet[key] = leverage
	g.levMu.Unlock()
	return nil
}

// OpenTrade reprices, sizes, and executes one signal for one user. Any
// failure after the MARKET fill goes through the emergency flatten.
func (g *Guard) OpenTrade(ctx context.Context, userID string, client venue.Client, sig *signal.Signal, r *rules.UserRules) *Result {
	log := g.logger.WithField("user", userID).WithField("symbol", sig.Symbol)

	// Orphan conditional orders from a previous life would collide
	// with the ones this trade installs.
	g.cleanupOrphans(client, sig.Symbol, log)

	spec, err := g.specs.Get(sig.Symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("symbol_spec:%v", err)}
	}
	if err := spec.Validate(); err != nil {
		return &Result{Reason: fmt.Sprintf("symbol_spec:%v", err)}
	}

	mark, err := g.prices.Mark(sig.Symbol)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("mark_price:%v", err)}
	}

	entry, stop, target := Reprice(sig, mark, spec)

	// A stop inside one tick of the mark collapses onto the entry after
	// round-down, leaving no risk distance to size against.
	if entry == stop {
		return &Result{Reason: "reprice:zero_risk_distance"}
	}

	// Rounding can only shrink the distances; reject if the realized
	// ratio degraded below the user's floor.
	realizedRR := realizedRR(entry, stop, target)
	if realizedRR < r.MinRR {
		return &Result{Reason: fmt.Sprintf("reprice:rr_below_min:%.2f<%.2f", realizedRR, r.MinRR)}
	}

	balance, err := client.GetAvailableBalance()
	if err != nil {
		return &Result{Reason: fmt.Sprintf("balance:%v", err)}
	}

	capital := balance * r.RiskPct
	quantity := spec.RoundQty(capital / abs(entry-stop))
	if quantity < spec.MinQty.InexactFloat64() {
		return &Result{Reason: fmt.Sprintf("sizing:qty_below_min:%g<%s", quantity, spec.MinQty)}
	}
	if quantity*entry < spec.MinNotional.InexactFloat64() {
		return &Result{Reason: fmt.Sprintf("sizing:notional_below_min:%.2f<%s", quantity*entry, spec.MinNotional)}
	}

	leverage := r.MaxLeverage
	if spec.MaxLeverage > 0 && spec.MaxLeverage < leverage {
		leverage = spec.MaxLeverage
	}
	if err := g.applyLeverage(client, userID, sig.Symbol, leverage); err != nil {
		return &Result{Reason: fmt.Sprintf("leverage:%v", err)}
	}

	result := &Result{
		Entry:    entry,
		StopLoss: stop,
		Target:   target,
		Quantity: quantity,
		Leverage: leverage,
		RR:       realizedRR,
	}

	side := venue.SideBuy
	if !sig.Direction.IsLong() {
		side = venue.SideSell
	}

	// ---- critical section ----

	order, err := client.CreateMarketOrder(venue.MarketOrderParams{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: quantity,
	})
	if err != nil {
		result.Step = StepMarketOrder
		result.Reason = err.Error()
		return result
	}
	result.OrderID = order.OrderID
	log.Info("market order placed", "order_id", order.OrderID, "qty", quantity)

	fillPrice, filled := g.waitForFill(client, sig.Symbol, order)
	if !filled {
		result.Step = StepWaitFill
		result.Reason = "WAIT_FILL_TIMEOUT"
		if g.hasOpenPosition(client, sig.Symbol) {
			// Partial fill left inventory behind
			result.PositionClosed = boolPtr(g.EmergencyFlatten(userID, client, sig.Symbol, side, quantity))
			return result
		}
		// Nothing filled. Cancel the resting entry so a late fill
		// cannot land without its protective orders.
		if err := client.CancelOrder(sig.Symbol, order.OrderID); err != nil {
			log.Warn("unfilled entry cancel failed", "order_id", order.OrderID, "error", err)
		}
		result.PositionClosed = boolPtr(false)
		return result
	}
	if fillPrice > 0 {
		result.Entry = fillPrice
	}

	slOrder, err := client.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol:        sig.Symbol,
		Side:          side.Opposite(),
		Type:          venue.OrderTypeStopMarket,
		TriggerPrice:  stop,
		WorkingType:   venue.WorkingTypeContractPrice,
		ClosePosition: true,
	})
	if err != nil {
		result.Step = StepStopLoss
		result.Reason = err.Error()
		result.PositionClosed = boolPtr(g.EmergencyFlatten(userID, client, sig.Symbol, side, quantity))
		return result
	}
	result.SLOrderID = slOrder.AlgoID

	tpOrder, err := client.CreateConditionalOrder(venue.ConditionalOrderParams{
		Symbol:        sig.Symbol,
		Side:          side.Opposite(),
		Type:          venue.OrderTypeTakeProfitMarket,
		TriggerPrice:  target,
		WorkingType:   venue.WorkingTypeMarkPrice,
		ClosePosition: true,
	})
	if err != nil {
		result.Step = StepTakeProfit
		result.Reason = err.Error()
		result.PositionClosed = boolPtr(g.EmergencyFlatten(userID, client, sig.Symbol, side, quantity))
		return result
	}
	result.TPOrderID = tpOrder.AlgoID

	// ---- critical section done ----

	result.Success = true
	result.Step = StepAllOK

	g.persist(ctx, userID, sig, r, result, capital)
	synced := g.publishLive(ctx, userID, sig, result)
	result.RedisUpdated = &synced

	log.Info("trade opened",
		"entry", result.Entry, "stop", stop, "target", target,
		"qty", quantity, "leverage", leverage)
	return result
}

// Reprice replaces the signal entry with the current mark while
// preserving the absolute stop distance and reward ratio, rounded down
// to the tick.
func Reprice(sig *signal.Signal, mark float64, spec *symbols.Spec) (entry, stop, target float64) {
	dist := sig.StopDistance()
	entry = spec.RoundPrice(mark)
	if sig.Direction.IsLong() {
		stop = spec.RoundPrice(mark - dist)
		target = spec.RoundPrice(mark + dist*sig.RR)
	} else {
		stop = spec.RoundPrice(mark + dist)
		target = spec.RoundPrice(mark - dist*sig.RR)
	}
	return entry, stop, target
}

func realizedRR(entry, stop, target float64) float64 {
	risk := abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return abs(target-entry) / risk
}

// waitForFill polls the entry order once a second until FILLED. Returns
// the average fill price and whether the order completed.
func (g *Guard) waitForFill(client venue.Client, symbol string, order *venue.OrderResponse) (float64, bool) {
	if order.Status == string(venue.OrderStatusFilled) {
		return order.AvgPrice, true
	}

	for attempt := 0; attempt < fillPollAttempts; attempt++ {
		g.sleep(fillPollInterval)
		current, err := client.GetOrder(symbol, order.OrderID)
		if err != nil {
			g.logger.Warn("fill poll failed", "symbol", symbol, "order_id", order.OrderID, "error", err)
			continue
		}
		if current.Status == string(venue.OrderStatusFilled) {
			return current.AvgPrice, true
		}
	}
	return 0, false
}

func (g *Guard) hasOpenPosition(client venue.Client, symbol string) bool {
	positions, err := client.GetPositions(symbol)
	if err != nil {
		// Unknown is treated as open so the flatten protocol engages
		g.logger.Warn("position query failed, assuming open", "symbol", symbol, "error", err)
		return true
	}
	for _, pos := range positions {
		if pos.PositionAmt != 0 {
			return true
		}
	}
	return false
}

// cleanupOrphans cancels leftover stop and take-profit orders on both
// channels. Errors are logged and ignored; a stray cancel failure must
// not block a new entry.
func (g *Guard) cleanupOrphans(client venue.Client, symbol string, log *logging.Logger) {
	orders, err := client.GetOpenOrders(symbol)
	if err != nil {
		log.Warn("orphan scan failed on order channel", "error", err)
	}
	for _, o := range orders {
		if o.Type != string(venue.OrderTypeStopMarket) && o.Type != string(venue.OrderTypeTakeProfitMarket) {
			continue
		}
		if err := client.CancelOrder(symbol, o.OrderID); err != nil {
			log.Warn("orphan cancel failed", "order_id", o.OrderID, "error", err)
		} else {
			log.Info("orphan order canceled", "order_id", o.OrderID, "type", o.Type)
		}
	}

	algoOrders, err := client.GetOpenConditionalOrders(symbol)
	if err != nil {
		log.Warn("orphan scan failed on conditional channel", "error", err)
	}
	for _, o := range algoOrders {
		if err := client.CancelConditionalOrder(symbol, o.AlgoID); err != nil {
			log.Warn("orphan conditional cancel failed", "algo_id", o.AlgoID, "error", err)
		} else {
			log.Info("orphan conditional canceled", "algo_id", o.AlgoID, "type", o.OrderType)
		}
	}
}

func (g *Guard) persist(ctx context.Context, userID string, sig *signal.Signal, r *rules.UserRules, result *Result, capital float64) {
	if g.trades == nil {
		return
	}

	snapshot, _ := json.Marshal(r)
	record := &database.TradeRecord{
		UserID:               userID,
		Strategy:             sig.Strategy,
		Symbol:               sig.Symbol,
		Direction:            string(sig.Direction),
		EntryOrderID:         result.OrderID,
		SLOrderID:            result.SLOrderID,
		TPOrderID:            result.TPOrderID,
		EntryPrice:           result.Entry,
		StopLoss:             result.StopLoss,
		TakeProfit:           result.Target,
		Quantity:             result.Quantity,
		RR:                   result.RR,
		Leverage:             result.Leverage,
		CapitalRisked:        capital,
		Probability:          sig.Probability,
		EV:                   sig.EV,
		SimulatedProbability: sig.SimulatedProbability,
		GrokProbability:      sig.GrokProbability,
		GrokAction:           sig.GrokAction,
		GrokConfidence:       sig.GrokConfidence,
		GrokRiskLevel:        sig.GrokRiskLevel,
		GrokTimingQuality:    sig.GrokTimingQuality,
		GrokKeyFactor:        sig.GrokKeyFactor,
		RulesSnapshot:        snapshot,
		SignalTimestamp:      sig.Timestamp,
	}
	if err := g.trades.Insert(ctx, record); err != nil {
		// The venue state is authoritative; a persistence miss is an
		// observability gap, not a trade failure.
		g.logger.Error("trade record insert failed", "user", userID, "symbol", sig.Symbol, "error", err)
	}
}

func (g *Guard) publishLive(ctx context.Context, userID string, sig *signal.Signal, result *Result) bool {
	if g.live == nil {
		return false
	}
	synced, err := g.live.Put(ctx, userID, &livetrade.Trade{
		Symbol:    sig.Symbol,
		Direction: string(sig.Direction),
		Entry:     result.Entry,
		Stop:      result.StopLoss,
		Target:    result.Target,
		Quantity:  result.Quantity,
	})
	if err != nil {
		g.logger.Error("live trade publish failed", "user", userID, "symbol", sig.Symbol, "error", err)
		return false
	}
	return synced
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
