package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

const (
	// DefaultAPIEndpoint is the production REST base URL.
	DefaultAPIEndpoint = "https://api.tastyworks.com"
	// SandboxAPIEndpoint is the certification-environment base URL.
	SandboxAPIEndpoint = "https://api.cert.tastyworks.com"

	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodySize   = 64 * 1024
)

// APIError represents a non-2xx response from the brokerage API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brokerage API error: status %d: %s", e.StatusCode, e.Body)
}

// apiFloat decodes the brokerage's numeric fields, which arrive as JSON
// strings ("5.0"), bare numbers, or null.
type apiFloat float64

func (f *apiFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parsing numeric field %q: %w", s, err)
	}
	*f = apiFloat(v)
	return nil
}

// TastytradeClient is the HTTPS implementation of Broker for the Tastytrade
// JSON API.
type TastytradeClient struct {
	baseURL       string
	token         string
	accountID     string
	previewOrders bool
	httpClient    *http.Client
	logger        *log.Logger
}

// ClientOption customizes a TastytradeClient.
type ClientOption func(*TastytradeClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *TastytradeClient) { c.httpClient = hc }
}

// WithOrderPreview enables a dry-run validation pass before live submission.
func WithOrderPreview(enabled bool) ClientOption {
	return func(c *TastytradeClient) { c.previewOrders = enabled }
}

// NewTastytradeClient creates a client for one account. baseURL falls back to
// the production endpoint when empty.
func NewTastytradeClient(baseURL, token, accountID string, logger *log.Logger, opts ...ClientOption) *TastytradeClient {
	if baseURL == "" {
		baseURL = DefaultAPIEndpoint
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &TastytradeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// makeRequest performs one authenticated API call, decoding the response into
// out when it is non-nil.
func (c *TastytradeClient) makeRequest(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

type balanceResponse struct {
	Data struct {
		AccountNumber         string   `json:"account-number"`
		CashBalance           apiFloat `json:"cash-balance"`
		NetLiquidatingValue   apiFloat `json:"net-liquidating-value"`
		DerivativeBuyingPower apiFloat `json:"derivative-buying-power"`
	} `json:"data"`
}

// GetAccountBalance implements Broker.
func (c *TastytradeClient) GetAccountBalance(ctx context.Context) (Balance, error) {
	var resp balanceResponse
	path := fmt.Sprintf("/accounts/%s/balances", c.accountID)
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return Balance{}, fmt.Errorf("fetching account balance: %w", err)
	}
	return Balance{
		AccountNumber:         resp.Data.AccountNumber,
		CashBalance:           float64(resp.Data.CashBalance),
		NetLiquidatingValue:   float64(resp.Data.NetLiquidatingValue),
		DerivativeBuyingPower: float64(resp.Data.DerivativeBuyingPower),
	}, nil
}

type positionsResponse struct {
	Data struct {
		Items []struct {
			Symbol            string   `json:"symbol"`
			InstrumentType    string   `json:"instrument-type"`
			UnderlyingSymbol  string   `json:"underlying-symbol"`
			Quantity          apiFloat `json:"quantity"`
			QuantityDirection string   `json:"quantity-direction"`
			AverageOpenPrice  apiFloat `json:"average-open-price"`
		} `json:"items"`
	} `json:"data"`
}

// GetPositions implements Broker.
func (c *TastytradeClient) GetPositions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	path := fmt.Sprintf("/accounts/%s/positions", c.accountID)
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]Position, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		positions = append(positions, Position{
			Symbol:           item.Symbol,
			InstrumentType:   item.InstrumentType,
			UnderlyingSymbol: item.UnderlyingSymbol,
			Quantity:         float64(item.Quantity),
			Direction:        item.QuantityDirection,
			AverageOpenPrice: float64(item.AverageOpenPrice),
		})
	}
	return positions, nil
}

type nestedChainResponse struct {
	Data struct {
		Items []struct {
			UnderlyingSymbol string `json:"underlying-symbol"`
			RootSymbol       string `json:"root-symbol"`
			Expirations      []struct {
				ExpirationDate string `json:"expiration-date"`
				Strikes        []struct {
					StrikePrice        apiFloat `json:"strike-price"`
					Call               string   `json:"call"`
					CallStreamerSymbol string   `json:"call-streamer-symbol"`
					Put                string   `json:"put"`
					PutStreamerSymbol  string   `json:"put-streamer-symbol"`
				} `json:"strikes"`
			} `json:"expirations"`
		} `json:"items"`
	} `json:"data"`
}

// GetOptionChain implements Broker. It returns contract identities for the
// single requested expiration; pricing rides the market-data stream.
func (c *TastytradeClient) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]ChainOption, error) {
	var resp nestedChainResponse
	path := fmt.Sprintf("/option-chains/%s/nested", url.PathEscape(underlying))
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching option chain for %s: %w", underlying, err)
	}

	wantDate := expiration.Format("2006-01-02")
	var chain []ChainOption
	for _, item := range resp.Data.Items {
		for _, exp := range item.Expirations {
			if exp.ExpirationDate != wantDate {
				continue
			}
			for _, strike := range exp.Strikes {
				if strike.Put != "" {
					chain = append(chain, ChainOption{
						Symbol:         strike.Put,
						StreamerSymbol: strike.PutStreamerSymbol,
						Underlying:     underlying,
						Expiration:     expiration,
						Strike:         float64(strike.StrikePrice),
						Type:           models.OptionTypePut,
					})
				}
				if strike.Call != "" {
					chain = append(chain, ChainOption{
						Symbol:         strike.Call,
						StreamerSymbol: strike.CallStreamerSymbol,
						Underlying:     underlying,
						Expiration:     expiration,
						Strike:         float64(strike.StrikePrice),
						Type:           models.OptionTypeCall,
					})
				}
			}
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no contracts for %s expiring %s", underlying, wantDate)
	}
	return chain, nil
}

type quotesResponse struct {
	Data struct {
		Items []struct {
			Symbol string   `json:"symbol"`
			Bid    apiFloat `json:"bid"`
			Ask    apiFloat `json:"ask"`
			Last   apiFloat `json:"last"`
		} `json:"items"`
	} `json:"data"`
}

// GetQuote implements Broker via the REST snapshot endpoint. The streaming
// cache is the primary quote source; this is the fallback path.
func (c *TastytradeClient) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	query := url.Values{}
	if len(symbol) == occSymbolLen {
		query.Set("equity-option", symbol)
	} else {
		query.Set("index", symbol)
	}

	var resp quotesResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/market-data/by-type", query, nil, &resp); err != nil {
		return Quote{}, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	for _, item := range resp.Data.Items {
		if item.Symbol == symbol {
			return Quote{
				Symbol: item.Symbol,
				Bid:    float64(item.Bid),
				Ask:    float64(item.Ask),
				Last:   float64(item.Last),
			}, nil
		}
	}
	return Quote{}, fmt.Errorf("no quote returned for %s", symbol)
}

type orderWire struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	OrderType         string      `json:"order-type"`
	TimeInForce       string      `json:"time-in-force"`
	Price             apiFloat    `json:"price"`
	PriceEffect       string      `json:"price-effect"`
	Size              apiFloat    `json:"size"`
	RemainingQuantity apiFloat    `json:"remaining-quantity"`
	RejectReason      string      `json:"reject-reason"`
	ReceivedAt        string      `json:"received-at"`
	Legs              []struct {
		Symbol            string   `json:"symbol"`
		Action            string   `json:"action"`
		Quantity          apiFloat `json:"quantity"`
		RemainingQuantity apiFloat `json:"remaining-quantity"`
		Fills             []struct {
			Quantity apiFloat `json:"quantity"`
		} `json:"fills"`
	} `json:"legs"`
}

func (w orderWire) toOrder() Order {
	order := Order{
		ID:                w.ID.String(),
		Status:            w.Status,
		OrderType:         w.OrderType,
		TimeInForce:       w.TimeInForce,
		Price:             float64(w.Price),
		PriceEffect:       w.PriceEffect,
		Quantity:          float64(w.Size),
		RemainingQuantity: float64(w.RemainingQuantity),
		RejectReason:      w.RejectReason,
	}
	if ts, err := time.Parse(time.RFC3339, w.ReceivedAt); err == nil {
		order.ReceivedAt = ts
	}
	// An atomic multi-leg order is only as filled as its least filled leg.
	for i, leg := range w.Legs {
		var filled float64
		for _, fill := range leg.Fills {
			filled += float64(fill.Quantity)
		}
		if i == 0 || filled < order.FilledQuantity {
			order.FilledQuantity = filled
		}
		order.Legs = append(order.Legs, OrderLeg{
			Symbol:   leg.Symbol,
			Action:   LegAction(leg.Action),
			Quantity: int(float64(leg.Quantity)),
		})
	}
	return order
}

type orderResponse struct {
	Data struct {
		Order orderWire `json:"order"`
	} `json:"data"`
}

type orderLegPayload struct {
	InstrumentType string `json:"instrument-type"`
	Symbol         string `json:"symbol"`
	Quantity       int    `json:"quantity"`
	Action         string `json:"action"`
}

type orderPayload struct {
	OrderType   string            `json:"order-type"`
	TimeInForce string            `json:"time-in-force"`
	Price       string            `json:"price,omitempty"`
	PriceEffect string            `json:"price-effect,omitempty"`
	Legs        []orderLegPayload `json:"legs"`
}

func (c *TastytradeClient) submitOrder(ctx context.Context, payload orderPayload) (Order, error) {
	base := fmt.Sprintf("/accounts/%s/orders", c.accountID)

	if c.previewOrders {
		if err := c.makeRequest(ctx, http.MethodPost, base+"/dry-run", nil, payload, nil); err != nil {
			return Order{}, fmt.Errorf("order preview rejected: %w", err)
		}
	}

	var resp orderResponse
	if err := c.makeRequest(ctx, http.MethodPost, base, nil, payload, &resp); err != nil {
		return Order{}, err
	}
	return resp.Data.Order.toOrder(), nil
}

// SubmitCondorOrder implements Broker: one atomic 4-leg net-credit limit order.
func (c *TastytradeClient) SubmitCondorOrder(ctx context.Context, req CondorOrderRequest) (Order, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "Day"
	}
	payload := orderPayload{
		OrderType:   "Limit",
		TimeInForce: tif,
		Price:       strconv.FormatFloat(req.LimitCredit, 'f', 2, 64),
		PriceEffect: "Credit",
	}
	for _, leg := range req.Legs {
		payload.Legs = append(payload.Legs, orderLegPayload{
			InstrumentType: "Equity Option",
			Symbol:         leg.Symbol,
			Quantity:       leg.Quantity,
			Action:         string(leg.Action),
		})
	}

	c.logger.Printf("submitting condor order: %s credit=%.2f legs=%d",
		req.Underlying, req.LimitCredit, len(payload.Legs))
	order, err := c.submitOrder(ctx, payload)
	if err != nil {
		return Order{}, fmt.Errorf("submitting condor order for %s: %w", req.Underlying, err)
	}
	return order, nil
}

// SubmitCloseOrder implements Broker: a 2-leg market order unwinding one side.
func (c *TastytradeClient) SubmitCloseOrder(ctx context.Context, req CloseOrderRequest) (Order, error) {
	payload := orderPayload{
		OrderType:   "Market",
		TimeInForce: "Day",
	}
	for _, leg := range req.Legs {
		payload.Legs = append(payload.Legs, orderLegPayload{
			InstrumentType: "Equity Option",
			Symbol:         leg.Symbol,
			Quantity:       leg.Quantity,
			Action:         string(leg.Action),
		})
	}

	c.logger.Printf("submitting close order: %s legs=%d", req.Underlying, len(payload.Legs))
	order, err := c.submitOrder(ctx, payload)
	if err != nil {
		return Order{}, fmt.Errorf("submitting close order for %s: %w", req.Underlying, err)
	}
	return order, nil
}

type ordersResponse struct {
	Data struct {
		Items []orderWire `json:"items"`
	} `json:"data"`
}

// GetOrderHistory implements Broker, returning today's orders.
func (c *TastytradeClient) GetOrderHistory(ctx context.Context) ([]Order, error) {
	query := url.Values{}
	query.Set("start-date", time.Now().UTC().Format("2006-01-02"))

	var resp ordersResponse
	path := fmt.Sprintf("/accounts/%s/orders", c.accountID)
	if err := c.makeRequest(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching order history: %w", err)
	}

	orders := make([]Order, 0, len(resp.Data.Items))
	for _, wire := range resp.Data.Items {
		orders = append(orders, wire.toOrder())
	}
	return orders, nil
}

// GetOrderStatus implements Broker.
func (c *TastytradeClient) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	var resp struct {
		Data orderWire `json:"data"`
	}
	path := fmt.Sprintf("/accounts/%s/orders/%s", c.accountID, url.PathEscape(orderID))
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return Order{}, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return resp.Data.toOrder(), nil
}

// CancelOrder implements Broker.
func (c *TastytradeClient) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/accounts/%s/orders/%s", c.accountID, url.PathEscape(orderID))
	if err := c.makeRequest(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

type marketTimeResponse struct {
	Data struct {
		State    string `json:"state"`
		OpenAt   string `json:"open-at"`
		CloseAt  string `json:"close-at"`
		Timezone string `json:"instant-timezone"`
	} `json:"data"`
}

// GetMarketClock implements Broker.
func (c *TastytradeClient) GetMarketClock(ctx context.Context) (MarketClock, error) {
	var resp marketTimeResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/market-time/sessions/current", nil, nil, &resp); err != nil {
		return MarketClock{}, fmt.Errorf("fetching market clock: %w", err)
	}

	clock := MarketClock{
		State:    strings.ToLower(resp.Data.State),
		Timezone: resp.Data.Timezone,
	}
	if ts, err := time.Parse(time.RFC3339, resp.Data.OpenAt); err == nil {
		clock.OpenAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, resp.Data.CloseAt); err == nil {
		clock.CloseAt = ts
	}
	return clock, nil
}

// StreamerCredentials carry the websocket quote endpoint and its short-lived
// auth token.
type StreamerCredentials struct {
	Token string
	URL   string
}

// GetStreamerCredentials fetches credentials for the market-data websocket.
// Not part of the Broker interface; only process bootstrap needs it.
func (c *TastytradeClient) GetStreamerCredentials(ctx context.Context) (StreamerCredentials, error) {
	var resp struct {
		Data struct {
			Token     string `json:"token"`
			DXLinkURL string `json:"dxlink-url"`
		} `json:"data"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, "/api-quote-tokens", nil, nil, &resp); err != nil {
		return StreamerCredentials{}, fmt.Errorf("fetching streamer credentials: %w", err)
	}
	if resp.Data.Token == "" || resp.Data.DXLinkURL == "" {
		return StreamerCredentials{}, fmt.Errorf("streamer credentials response incomplete")
	}
	return StreamerCredentials{Token: resp.Data.Token, URL: resp.Data.DXLinkURL}, nil
}
