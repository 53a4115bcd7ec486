package venue

import (
	"time"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/logging"
)

const (
	maxRetries  = 3
	baseBackoff = 1 * time.Second
	maxBackoff  = 10 * time.Second
)

// Retrying wraps a Client and retries transient failures up to 3 times
// with exponential backoff (1s, 2s, 4s, capped at 10s). Deterministic
// errors pass through immediately.
type Retrying struct {
	inner  Client
	logger *logging.Logger
	sleep  func(time.Duration) // replaced in tests
}

// NewRetrying wraps inner with the retry policy.
func NewRetrying(inner Client, logger *logging.Logger) *Retrying {
	if logger == nil {
		logger = logging.WithComponent("venue")
	}
	return &Retrying{inner: inner, logger: logger, sleep: time.Sleep}
}

func (r *Retrying) retry(op string, fn func() error) error {
	var err error
	backoff := baseBackoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("retrying venue call",
				"operation", op,
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", err)
			r.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

func (r *Retrying) GetMarkPrice(symbol string) (*MarkPrice, error) {
	var out *MarkPrice
	err := r.retry("get_mark_price", func() error {
		var e error
		out, e = r.inner.GetMarkPrice(symbol)
		return e
	})
	return out, err
}

func (r *Retrying) GetOrderBook(symbol string, depth int) (*OrderBook, error) {
	var out *OrderBook
	err := r.retry("get_order_book", func() error {
		var e error
		out, e = r.inner.GetOrderBook(symbol, depth)
		return e
	})
	return out, err
}

func (r *Retrying) GetExchangeInfo() (*ExchangeInfo, error) {
	var out *ExchangeInfo
	err := r.retry("get_exchange_info", func() error {
		var e error
		out, e = r.inner.GetExchangeInfo()
		return e
	})
	return out, err
}

func (r *Retrying) GetLeverageBracket(symbol string) ([]SymbolBrackets, error) {
	var out []SymbolBrackets
	err := r.retry("get_leverage_bracket", func() error {
		var e error
		out, e = r.inner.GetLeverageBracket(symbol)
		return e
	})
	return out, err
}

func (r *Retrying) GetAvailableBalance() (float64, error) {
	var out float64
	err := r.retry("get_available_balance", func() error {
		var e error
		out, e = r.inner.GetAvailableBalance()
		return e
	})
	return out, err
}

func (r *Retrying) GetPositions(symbol string) ([]Position, error) {
	var out []Position
	err := r.retry("get_positions", func() error {
		var e error
		out, e = r.inner.GetPositions(symbol)
		return e
	})
	return out, err
}

func (r *Retrying) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	var out *LeverageResponse
	err := r.retry("set_leverage", func() error {
		var e error
		out, e = r.inner.SetLeverage(symbol, leverage)
		return e
	})
	return out, err
}

func (r *Retrying) GetOpenOrders(symbol string) ([]Order, error) {
	var out []Order
	err := r.retry("get_open_orders", func() error {
		var e error
		out, e = r.inner.GetOpenOrders(symbol)
		return e
	})
	return out, err
}

func (r *Retrying) GetOpenConditionalOrders(symbol string) ([]ConditionalOrder, error) {
	var out []ConditionalOrder
	err := r.retry("get_open_conditional_orders", func() error {
		var e error
		out, e = r.inner.GetOpenConditionalOrders(symbol)
		return e
	})
	return out, err
}

func (r *Retrying) GetOrder(symbol string, orderID int64) (*Order, error) {
	var out *Order
	err := r.retry("get_order", func() error {
		var e error
		out, e = r.inner.GetOrder(symbol, orderID)
		return e
	})
	return out, err
}

func (r *Retrying) CreateMarketOrder(params MarketOrderParams) (*OrderResponse, error) {
	var out *OrderResponse
	err := r.retry("create_market_order", func() error {
		var e error
		out, e = r.inner.CreateMarketOrder(params)
		return e
	})
	return out, err
}

func (r *Retrying) CreateConditionalOrder(params ConditionalOrderParams) (*ConditionalOrderResponse, error) {
	var out *ConditionalOrderResponse
	err := r.retry("create_conditional_order", func() error {
		var e error
		out, e = r.inner.CreateConditionalOrder(params)
		return e
	})
	return out, err
}

func (r *Retrying) CancelOrder(symbol string, orderID int64) error {
	return r.retry("cancel_order", func() error {
		return r.inner.CancelOrder(symbol, orderID)
	})
}

func (r *Retrying) CancelConditionalOrder(symbol string, algoID int64) error {
	return r.retry("cancel_conditional_order", func() error {
		return r.inner.CancelConditionalOrder(symbol, algoID)
	})
}

var _ Client = (*Retrying)(nil)
