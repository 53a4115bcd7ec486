package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseURL is the production Binance USDT-M Futures API URL
	BaseURL = "https://fapi.binance.com"
	// TestnetURL is the testnet Binance USDT-M Futures API URL
	TestnetURL = "https://testnet.binancefuture.com"
)

// BinanceClient implements the Client interface against the Binance
// USDT-M Futures REST API. It is a raw transport: no retries here, the
// Retrying decorator adds the retry policy on top.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewBinanceClient creates a raw Binance futures client.
func NewBinanceClient(apiKey, secretKey string, testnet bool) *BinanceClient {
	baseURL := BaseURL
	if testnet {
		baseURL = TestnetURL
	}

	// Trim whitespace from keys - critical for signature generation
	return &BinanceClient{
		apiKey:    strings.TrimSpace(apiKey),
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		},
	}
}

// ==================== MARKET DATA ====================

// GetMarkPrice retrieves the mark price for a symbol
func (c *BinanceClient) GetMarkPrice(symbol string) (*MarkPrice, error) {
	resp, err := c.publicGet("/fapi/v1/premiumIndex", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("error fetching mark price: %w", err)
	}

	var markPrice MarkPrice
	if err := json.Unmarshal(resp, &markPrice); err != nil {
		return nil, fmt.Errorf("error parsing mark price: %w", err)
	}

	return &markPrice, nil
}

// GetOrderBook retrieves the order book depth
func (c *BinanceClient) GetOrderBook(symbol string, depth int) (*OrderBook, error) {
	resp, err := c.publicGet("/fapi/v1/depth", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(depth),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching order book: %w", err)
	}

	var book OrderBook
	if err := json.Unmarshal(resp, &book); err != nil {
		return nil, fmt.Errorf("error parsing order book: %w", err)
	}

	return &book, nil
}

// GetExchangeInfo retrieves futures exchange information
func (c *BinanceClient) GetExchangeInfo() (*ExchangeInfo, error) {
	resp, err := c.publicGet("/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info ExchangeInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	return &info, nil
}

// GetLeverageBracket retrieves the notional brackets for a symbol
func (c *BinanceClient) GetLeverageBracket(symbol string) ([]SymbolBrackets, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v1/leverageBracket", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching leverage bracket: %w", err)
	}

	var brackets []SymbolBrackets
	if err := json.Unmarshal(resp, &brackets); err != nil {
		return nil, fmt.Errorf("error parsing leverage bracket: %w", err)
	}

	return brackets, nil
}

// ==================== ACCOUNT ====================

// GetAvailableBalance retrieves the free USDT balance
func (c *BinanceClient) GetAvailableBalance() (float64, error) {
	resp, err := c.signedGet("/fapi/v2/account", map[string]string{})
	if err != nil {
		return 0, fmt.Errorf("error fetching account info: %w", err)
	}

	var info AccountInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return 0, fmt.Errorf("error parsing account info: %w", err)
	}

	for _, asset := range info.Assets {
		if asset.Asset == "USDT" {
			return asset.AvailableBalance, nil
		}
	}

	return 0, nil
}

// GetPositions retrieves positions; empty symbol returns all
func (c *BinanceClient) GetPositions(symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}

	return positions, nil
}

// SetLeverage sets the leverage for a symbol
func (c *BinanceClient) SetLeverage(symbol string, leverage int) (*LeverageResponse, error) {
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}

	resp, err := c.signedPost("/fapi/v1/leverage", params)
	if err != nil {
		return nil, fmt.Errorf("error setting leverage: %w", err)
	}

	var lr LeverageResponse
	if err := json.Unmarshal(resp, &lr); err != nil {
		return nil, fmt.Errorf("error parsing leverage response: %w", err)
	}

	return &lr, nil
}

// ==================== ORDERS ====================

// GetOpenOrders retrieves classic-channel open orders for a symbol
func (c *BinanceClient) GetOpenOrders(symbol string) ([]Order, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	var orders []Order
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}

	return orders, nil
}

// GetOpenConditionalOrders retrieves algo-channel open orders for a symbol
func (c *BinanceClient) GetOpenConditionalOrders(symbol string) ([]ConditionalOrder, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v1/openAlgoOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching open conditional orders: %w", err)
	}

	var orders []ConditionalOrder
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("error parsing open conditional orders: %w", err)
	}

	return orders, nil
}

// GetOrder retrieves a specific classic-channel order
func (c *BinanceClient) GetOrder(symbol string, orderID int64) (*Order, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}

	resp, err := c.signedGet("/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var order Order
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}

	return &order, nil
}

// CreateMarketOrder places a MARKET order
func (c *BinanceClient) CreateMarketOrder(params MarketOrderParams) (*OrderResponse, error) {
	reqParams := map[string]string{
		"symbol": params.Symbol,
		"side":   string(params.Side),
		"type":   string(OrderTypeMarket),
	}

	// closePosition and quantity are mutually exclusive on the venue side
	if params.ClosePosition {
		reqParams["closePosition"] = "true"
	} else {
		reqParams["quantity"] = strconv.FormatFloat(params.Quantity, 'f', -1, 64)
	}
	if params.ReduceOnly && !params.ClosePosition {
		reqParams["reduceOnly"] = "true"
	}

	resp, err := c.signedPost("/fapi/v1/order", reqParams)
	if err != nil {
		return nil, fmt.Errorf("error placing market order: %w", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return &orderResp, nil
}

// CreateConditionalOrder places a conditional order on the algo channel
func (c *BinanceClient) CreateConditionalOrder(params ConditionalOrderParams) (*ConditionalOrderResponse, error) {
	reqParams := map[string]string{
		"algoType":     "CONDITIONAL",
		"symbol":       params.Symbol,
		"side":         string(params.Side),
		"type":         string(params.Type),
		"triggerPrice": strconv.FormatFloat(params.TriggerPrice, 'f', -1, 64),
	}

	if params.WorkingType != "" {
		reqParams["workingType"] = string(params.WorkingType)
	}
	if params.ClosePosition {
		reqParams["closePosition"] = "true"
	} else if params.Quantity > 0 {
		reqParams["quantity"] = strconv.FormatFloat(params.Quantity, 'f', -1, 64)
	}
	if params.ReduceOnly && !params.ClosePosition {
		reqParams["reduceOnly"] = "true"
	}

	resp, err := c.signedPost("/fapi/v1/algoOrder", reqParams)
	if err != nil {
		return nil, fmt.Errorf("error placing conditional order: %w", err)
	}

	var algoResp ConditionalOrderResponse
	if err := json.Unmarshal(resp, &algoResp); err != nil {
		return nil, fmt.Errorf("error parsing conditional order response: %w", err)
	}

	return &algoResp, nil
}

// CancelOrder cancels a classic-channel order
func (c *BinanceClient) CancelOrder(symbol string, orderID int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}

	if _, err := c.signedDelete("/fapi/v1/order", params); err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}

	return nil
}

// CancelConditionalOrder cancels an algo-channel order
func (c *BinanceClient) CancelConditionalOrder(symbol string, algoID int64) error {
	params := map[string]string{
		"symbol": symbol,
		"algoId": strconv.FormatInt(algoID, 10),
	}

	if _, err := c.signedDelete("/fapi/v1/algoOrder", params); err != nil {
		return fmt.Errorf("error canceling conditional order: %w", err)
	}

	return nil
}

// ==================== HTTP HELPERS ====================

func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) signParams(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	query := values.Encode()
	return query + "&signature=" + c.sign(query)
}

func (c *BinanceClient) publicGet(endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	reqURL := c.baseURL + endpoint
	if len(values) > 0 {
		reqURL += "?" + values.Encode()
	}

	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

func (c *BinanceClient) signedRequest(method, endpoint string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["recvWindow"] = "10000" // 10 seconds tolerance for clock skew
	query := c.signParams(params)

	req, err := http.NewRequest(method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

func (c *BinanceClient) signedGet(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodGet, endpoint, params)
}

func (c *BinanceClient) signedPost(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodPost, endpoint, params)
}

func (c *BinanceClient) signedDelete(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodDelete, endpoint, params)
}

func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp.StatusCode, body)
	}

	return body, nil
}

// Ensure BinanceClient implements Client
var _ Client = (*BinanceClient)(nil)
