package venue

// ==================== ENUMS ====================

// OrderSide is the order direction
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents order types
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus represents order status
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// WorkingType selects the price feed that triggers a conditional order.
// CONTRACT_PRICE reacts to the last trade, MARK_PRICE avoids wicks.
type WorkingType string

const (
	WorkingTypeContractPrice WorkingType = "CONTRACT_PRICE"
	WorkingTypeMarkPrice     WorkingType = "MARK_PRICE"
)

// ==================== MARKET DATA ====================

// MarkPrice represents mark price data
type MarkPrice struct {
	Symbol    string  `json:"symbol"`
	MarkPrice float64 `json:"markPrice,string"`
	Time      int64   `json:"time"`
}

// OrderBook represents order book depth
type OrderBook struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"` // [price, qty]
	Asks         [][]string `json:"asks"`
}

// ==================== EXCHANGE INFO ====================

// SymbolFilter is one entry of a symbol's filters array
type SymbolFilter struct {
	FilterType string `json:"filterType"`
	MinPrice   string `json:"minPrice,omitempty"`
	MaxPrice   string `json:"maxPrice,omitempty"`
	TickSize   string `json:"tickSize,omitempty"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

// SymbolInfo represents futures symbol information
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	ContractType      string         `json:"contractType"`
	Status            string         `json:"status"`
	QuoteAsset        string         `json:"quoteAsset"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
}

// ExchangeInfo represents futures exchange information
type ExchangeInfo struct {
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// LeverageBracket is one notional bracket of a symbol
type LeverageBracket struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  int     `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
}

// SymbolBrackets groups the brackets of a symbol
type SymbolBrackets struct {
	Symbol   string            `json:"symbol"`
	Brackets []LeverageBracket `json:"brackets"`
}

// ==================== ACCOUNT ====================

// Position represents a futures position from the positionRisk endpoint
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	Leverage         int     `json:"leverage,string"`
	MarginType       string  `json:"marginType"`
	PositionSide     string  `json:"positionSide"`
	UpdateTime       int64   `json:"updateTime"`
}

// AccountAsset is one asset of the futures account
type AccountAsset struct {
	Asset            string  `json:"asset"`
	WalletBalance    float64 `json:"walletBalance,string"`
	AvailableBalance float64 `json:"availableBalance,string"`
}

// AccountInfo represents futures account information
type AccountInfo struct {
	CanTrade bool           `json:"canTrade"`
	Assets   []AccountAsset `json:"assets"`
}

// ==================== ORDERS ====================

// MarketOrderParams are the parameters of a MARKET order
type MarketOrderParams struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	ReduceOnly    bool
	ClosePosition bool
}

// ConditionalOrderParams are the parameters of a conditional (algo) order
type ConditionalOrderParams struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType // STOP_MARKET or TAKE_PROFIT_MARKET
	TriggerPrice  float64
	WorkingType   WorkingType
	ClosePosition bool
	Quantity      float64 // ignored when ClosePosition is set
	ReduceOnly    bool
}

// Order represents a classic-channel order
type Order struct {
	OrderID       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderID string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	ClosePosition bool    `json:"closePosition"`
	Side          string  `json:"side"`
	StopPrice     float64 `json:"stopPrice,string"`
	WorkingType   string  `json:"workingType"`
	Time          int64   `json:"time"`
	UpdateTime    int64   `json:"updateTime"`
}

// OrderResponse is the response of placing a classic-channel order
type OrderResponse struct {
	OrderID     int64   `json:"orderId"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	AvgPrice    float64 `json:"avgPrice,string"`
	OrigQty     float64 `json:"origQty,string"`
	ExecutedQty float64 `json:"executedQty,string"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	UpdateTime  int64   `json:"updateTime"`
}

// ConditionalOrder represents an open conditional (algo-channel) order
type ConditionalOrder struct {
	AlgoID        int64   `json:"algoId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	OrderType     string  `json:"orderType"`
	AlgoStatus    string  `json:"algoStatus"`
	TriggerPrice  float64 `json:"triggerPrice,string"`
	Quantity      float64 `json:"quantity,string"`
	WorkingType   string  `json:"workingType"`
	ClosePosition bool    `json:"closePosition"`
	ReduceOnly    bool    `json:"reduceOnly"`
	CreateTime    int64   `json:"createTime"`
}

// ConditionalOrderResponse is the response of placing a conditional order
type ConditionalOrderResponse struct {
	AlgoID        int64   `json:"algoId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	OrderType     string  `json:"orderType"`
	AlgoStatus    string  `json:"algoStatus"`
	TriggerPrice  float64 `json:"triggerPrice,string"`
	WorkingType   string  `json:"workingType"`
	ClosePosition bool    `json:"closePosition"`
	CreateTime    int64   `json:"createTime"`
}

// LeverageResponse is the response of setting leverage
type LeverageResponse struct {
	Leverage int    `json:"leverage"`
	Symbol   string `json:"symbol"`
}
