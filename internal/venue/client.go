package venue

// Client is the capability boundary toward the exchange. One instance is
// bound to one account's credentials; market-data calls are credential-free
// but still go through the same instance so the retry policy applies
// uniformly.
type Client interface {
	// ==================== MARKET DATA ====================

	// GetMarkPrice retrieves the mark price for a symbol
	GetMarkPrice(symbol string) (*MarkPrice, error)

	// GetOrderBook retrieves order book depth for a symbol
	GetOrderBook(symbol string, depth int) (*OrderBook, error)

	// GetExchangeInfo retrieves the symbol filters for the whole venue
	GetExchangeInfo() (*ExchangeInfo, error)

	// GetLeverageBracket retrieves the notional brackets for a symbol
	GetLeverageBracket(symbol string) ([]SymbolBrackets, error)

	// ==================== ACCOUNT ====================

	// GetAvailableBalance retrieves the free USDT balance
	GetAvailableBalance() (float64, error)

	// GetPositions retrieves positions; empty symbol returns all
	GetPositions(symbol string) ([]Position, error)

	// SetLeverage sets the leverage for a symbol
	SetLeverage(symbol string, leverage int) (*LeverageResponse, error)

	// ==================== ORDERS ====================

	// GetOpenOrders retrieves classic-channel open orders for a symbol
	GetOpenOrders(symbol string) ([]Order, error)

	// GetOpenConditionalOrders retrieves algo-channel open orders for a symbol
	GetOpenConditionalOrders(symbol string) ([]ConditionalOrder, error)

	// GetOrder retrieves a specific classic-channel order
	GetOrder(symbol string, orderID int64) (*Order, error)

	// CreateMarketOrder places a MARKET order
	CreateMarketOrder(params MarketOrderParams) (*OrderResponse, error)

	// CreateConditionalOrder places a STOP_MARKET or TAKE_PROFIT_MARKET
	// conditional order on the algo channel
	CreateConditionalOrder(params ConditionalOrderParams) (*ConditionalOrderResponse, error)

	// CancelOrder cancels a classic-channel order
	CancelOrder(symbol string, orderID int64) error

	// CancelConditionalOrder cancels an algo-channel order
	CancelConditionalOrder(symbol string, algoID int64) error
}
