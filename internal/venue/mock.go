package venue

import (
	"fmt"
	"sync"
)

// Mock implements the Client interface in memory. Used in dry-run mode
// and in tests. Every method can be overridden through its hook field;
// without a hook the stateful default behavior applies: market orders
// fill immediately at the mark price, conditional orders rest open.
type Mock struct {
	mu sync.RWMutex

	MarkPrices map[string]float64
	Books      map[string]*OrderBook
	Info       *ExchangeInfo
	Brackets   map[string][]LeverageBracket
	Balance    float64
	Pos        map[string]*Position
	Leverage   map[string]int

	orders      map[int64]*Order
	algoOrders  map[int64]*ConditionalOrder
	nextOrderID int64
	nextAlgoID  int64

	// Per-method hooks for failure injection
	MarkPriceFn       func(symbol string) (*MarkPrice, error)
	OrderBookFn       func(symbol string, depth int) (*OrderBook, error)
	ExchangeInfoFn    func() (*ExchangeInfo, error)
	LeverageBracketFn func(symbol string) ([]SymbolBrackets, error)
	BalanceFn         func() (float64, error)
	PositionsFn       func(symbol string) ([]Position, error)
	SetLeverageFn     func(symbol string, leverage int) (*LeverageResponse, error)
	OpenOrdersFn      func(symbol string) ([]Order, error)
	OpenAlgoOrdersFn  func(symbol string) ([]ConditionalOrder, error)
	GetOrderFn        func(symbol string, orderID int64) (*Order, error)
	MarketOrderFn     func(params MarketOrderParams) (*OrderResponse, error)
	ConditionalFn     func(params ConditionalOrderParams) (*ConditionalOrderResponse, error)
	CancelOrderFn     func(symbol string, orderID int64) error
	CancelAlgoOrderFn func(symbol string, algoID int64) error
}

// NewMock creates a mock with the given free balance.
func NewMock(balance float64) *Mock {
	return &Mock{
		MarkPrices:  make(map[string]float64),
		Books:       make(map[string]*OrderBook),
		Brackets:    make(map[string][]LeverageBracket),
		Balance:     balance,
		Pos:         make(map[string]*Position),
		Leverage:    make(map[string]int),
		orders:      make(map[int64]*Order),
		algoOrders:  make(map[int64]*ConditionalOrder),
		nextOrderID: 1000,
		nextAlgoID:  5000,
	}
}

// SetMarkPrice sets the mark price used for fills and queries.
func (m *Mock) SetMarkPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkPrices[symbol] = price
}

// SetPosition installs an open position.
func (m *Mock) SetPosition(symbol string, amt, entry float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pos[symbol] = &Position{
		Symbol:      symbol,
		PositionAmt: amt,
		EntryPrice:  entry,
		MarkPrice:   m.MarkPrices[symbol],
	}
}

// OpenAlgoCount returns the number of resting conditional orders.
func (m *Mock) OpenAlgoCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.algoOrders)
}

func (m *Mock) GetMarkPrice(symbol string) (*MarkPrice, error) {
	if m.MarkPriceFn != nil {
		return m.MarkPriceFn(symbol)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.MarkPrices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no mark price for %s", symbol)
	}
	return &MarkPrice{Symbol: symbol, MarkPrice: price}, nil
}

func (m *Mock) GetOrderBook(symbol string, depth int) (*OrderBook, error) {
	if m.OrderBookFn != nil {
		return m.OrderBookFn(symbol, depth)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if book, ok := m.Books[symbol]; ok {
		return book, nil
	}
	// Synthesize a tight book around the mark price
	price, ok := m.MarkPrices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no order book for %s", symbol)
	}
	return &OrderBook{
		Bids: [][]string{{fmt.Sprintf("%.8f", price*0.9999), "10"}},
		Asks: [][]string{{fmt.Sprintf("%.8f", price*1.0001), "10"}},
	}, nil
}

func (m *Mock) GetExchangeInfo() (*ExchangeInfo, error) {
	if m.ExchangeInfoFn != nil {
		return m.ExchangeInfoFn()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Info == nil {
		return nil, fmt.Errorf("mock: exchange info not configured")
	}
	return m.Info, nil
}

func (m *Mock) GetLeverageBracket(symbol string) ([]SymbolBrackets, error) {
	if m.LeverageBracketFn != nil {
		return m.LeverageBracketFn(symbol)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	brackets, ok := m.Brackets[symbol]
	if !ok {
		brackets = []LeverageBracket{{Bracket: 1, InitialLeverage: 125, NotionalCap: 1e9}}
	}
	return []SymbolBrackets{{Symbol: symbol, Brackets: brackets}}, nil
}

func (m *Mock) GetAvailableBalance() (float64, error) {
	if m.BalanceFn != nil {
		return m.BalanceFn()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Balance, nil
}

func (m *Mock) GetPositions(symbol string) ([]Position, error) {
	if m.PositionsFn != nil {
		return m.PositionsFn(symbol)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Position
	for sym, pos := range m.Pos {
		if symbol != "" && sym != symbol {
			continue
		}
		p := *pos
		p.MarkPrice = m.MarkPrices[sym]
		out = append(out, p)
	}
	return out, nil
}

func (m *Mock) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	if m.SetLeverageFn != nil {
		return m.SetLeverageFn(symbol, leverage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Leverage[symbol] = leverage
	return &LeverageResponse{Symbol: symbol, Leverage: leverage}, nil
}

func (m *Mock) GetOpenOrders(symbol string) ([]Order, error) {
	if m.OpenOrdersFn != nil {
		return m.OpenOrdersFn(symbol)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status != string(OrderStatusNew) {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *Mock) GetOpenConditionalOrders(symbol string) ([]ConditionalOrder, error) {
	if m.OpenAlgoOrdersFn != nil {
		return m.OpenAlgoOrdersFn(symbol)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ConditionalOrder
	for _, o := range m.algoOrders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *Mock) GetOrder(symbol string, orderID int64) (*Order, error) {
	if m.GetOrderFn != nil {
		return m.GetOrderFn(symbol, orderID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, &APIError{Code: -2013, Msg: "Order does not exist.", Kind: KindUnknownOrder}
	}
	cp := *o
	return &cp, nil
}

func (m *Mock) CreateMarketOrder(params MarketOrderParams) (*OrderResponse, error) {
	if m.MarketOrderFn != nil {
		return m.MarketOrderFn(params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	price := m.MarkPrices[params.Symbol]
	qty := params.Quantity

	if params.ClosePosition || params.ReduceOnly {
		pos, ok := m.Pos[params.Symbol]
		if !ok || pos.PositionAmt == 0 {
			return nil, &APIError{Code: -2022, Msg: "ReduceOnly Order is rejected.", Kind: KindUnknownOrder}
		}
		if params.ClosePosition || qty >= abs(pos.PositionAmt) {
			qty = abs(pos.PositionAmt)
			delete(m.Pos, params.Symbol)
		} else if params.Side == SideSell {
			pos.PositionAmt -= qty
		} else {
			pos.PositionAmt += qty
		}
	} else {
		amt := qty
		if params.Side == SideSell {
			amt = -qty
		}
		if pos, ok := m.Pos[params.Symbol]; ok {
			pos.PositionAmt += amt
		} else {
			m.Pos[params.Symbol] = &Position{
				Symbol:      params.Symbol,
				PositionAmt: amt,
				EntryPrice:  price,
				MarkPrice:   price,
			}
		}
	}

	m.nextOrderID++
	id := m.nextOrderID
	m.orders[id] = &Order{
		OrderID:     id,
		Symbol:      params.Symbol,
		Status:      string(OrderStatusFilled),
		AvgPrice:    price,
		OrigQty:     qty,
		ExecutedQty: qty,
		Side:        string(params.Side),
		Type:        string(OrderTypeMarket),
	}
	return &OrderResponse{
		OrderID:     id,
		Symbol:      params.Symbol,
		Status:      string(OrderStatusFilled),
		AvgPrice:    price,
		OrigQty:     qty,
		ExecutedQty: qty,
		Side:        string(params.Side),
		Type:        string(OrderTypeMarket),
	}, nil
}

func (m *Mock) CreateConditionalOrder(params ConditionalOrderParams) (*ConditionalOrderResponse, error) {
	if m.ConditionalFn != nil {
		return m.ConditionalFn(params)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAlgoID++
	id := m.nextAlgoID
	m.algoOrders[id] = &ConditionalOrder{
		AlgoID:        id,
		Symbol:        params.Symbol,
		Side:          string(params.Side),
		OrderType:     string(params.Type),
		AlgoStatus:    "NEW",
		TriggerPrice:  params.TriggerPrice,
		Quantity:      params.Quantity,
		WorkingType:   string(params.WorkingType),
		ClosePosition: params.ClosePosition,
		ReduceOnly:    params.ReduceOnly,
	}
	return &ConditionalOrderResponse{
		AlgoID:        id,
		Symbol:        params.Symbol,
		Side:          string(params.Side),
		OrderType:     string(params.Type),
		AlgoStatus:    "NEW",
		TriggerPrice:  params.TriggerPrice,
		WorkingType:   string(params.WorkingType),
		ClosePosition: params.ClosePosition,
	}, nil
}

func (m *Mock) CancelOrder(symbol string, orderID int64) error {
	if m.CancelOrderFn != nil {
		return m.CancelOrderFn(symbol, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return &APIError{Code: -2011, Msg: "Unknown order sent.", Kind: KindUnknownOrder}
	}
	o.Status = string(OrderStatusCanceled)
	return nil
}

func (m *Mock) CancelConditionalOrder(symbol string, algoID int64) error {
	if m.CancelAlgoOrderFn != nil {
		return m.CancelAlgoOrderFn(symbol, algoID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.algoOrders[algoID]; !ok {
		return &APIError{Code: -2011, Msg: "Unknown order sent.", Kind: KindUnknownOrder}
	}
	delete(m.algoOrders, algoID)
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ Client = (*Mock)(nil)
