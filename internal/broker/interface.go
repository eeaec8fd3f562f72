// Package broker provides the brokerage capability interface and its
// Tastytrade implementation.
package broker

import (
	"context"
	"math"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
	"github.com/sony/gobreaker"
)

// fillEpsilon tolerates float drift when comparing fill quantities.
const fillEpsilon = 1e-6

// Quote is a top-of-book snapshot for one symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
}

// Mid returns the bid/ask midpoint, falling back to last when one side is empty.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// ChainOption is one entry of an option chain: contract identity only.
// Prices and greeks arrive over the market-data stream, not the chain fetch.
type ChainOption struct {
	Symbol         string
	StreamerSymbol string
	Underlying     string
	Expiration     time.Time
	Strike         float64
	Type           models.OptionType
}

// Balance carries the account figures sizing needs.
type Balance struct {
	AccountNumber         string
	CashBalance           float64
	NetLiquidatingValue   float64
	DerivativeBuyingPower float64
}

// Position is one broker-reported holding.
type Position struct {
	Symbol           string
	InstrumentType   string
	UnderlyingSymbol string
	Quantity         float64
	Direction        string // Long | Short
	AverageOpenPrice float64
}

// SignedQuantity returns the quantity negated for short positions.
func (p Position) SignedQuantity() float64 {
	if p.Direction == "Short" {
		return -p.Quantity
	}
	return p.Quantity
}

// LegAction is an order leg's open/close instruction.
type LegAction string

const (
	ActionSellToOpen  LegAction = "Sell to Open"
	ActionBuyToOpen   LegAction = "Buy to Open"
	ActionSellToClose LegAction = "Sell to Close"
	ActionBuyToClose  LegAction = "Buy to Close"
)

// OrderLeg is one leg of a multi-leg order.
type OrderLeg struct {
	Symbol   string
	Action   LegAction
	Quantity int
}

// Order statuses as the brokerage reports them.
const (
	OrderStatusReceived  = "Received"
	OrderStatusRouted    = "Routed"
	OrderStatusLive      = "Live"
	OrderStatusFilled    = "Filled"
	OrderStatusCancelled = "Cancelled"
	OrderStatusRejected  = "Rejected"
	OrderStatusExpired   = "Expired"
)

// Order is a submitted or historical order.
type Order struct {
	ID                string
	Status            string
	OrderType         string
	TimeInForce       string
	Price             float64
	PriceEffect       string // Credit | Debit
	FilledQuantity    float64
	RemainingQuantity float64
	Quantity          float64
	Legs              []OrderLeg
	RejectReason      string
	ReceivedAt        time.Time
}

// IsTerminal reports whether the order can no longer fill.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsCompletelyFilled checks fill completeness, tolerating float drift and
// brokers that omit one of the two quantity fields.
func (o Order) IsCompletelyFilled() bool {
	if o.Status != OrderStatusFilled {
		return false
	}
	if o.FilledQuantity <= fillEpsilon {
		return false
	}
	if o.Quantity > 0 {
		return math.Abs(o.FilledQuantity-o.Quantity) <= fillEpsilon
	}
	return o.RemainingQuantity <= fillEpsilon
}

// CondorOrderRequest is an atomic 4-leg net-credit entry order.
type CondorOrderRequest struct {
	Underlying  string
	Legs        [4]OrderLeg
	LimitCredit float64
	TimeInForce string
}

// CloseOrderRequest closes one side of a condor: buy the short back and sell
// its wing, as a market order.
type CloseOrderRequest struct {
	Underlying string
	Legs       [2]OrderLeg
}

// MarketClock reports the current session state.
type MarketClock struct {
	State    string // open | closed | pre-market | after-hours
	OpenAt   time.Time
	CloseAt  time.Time
	Timezone string
}

// IsOpen reports whether the regular session is trading.
func (m MarketClock) IsOpen() bool {
	return m.State == "open"
}

// Broker defines the brokerage operations the strategy consumes.
//
// Implementations must be safe for concurrent use; all methods are blocking
// and honor the passed context.
type Broker interface {
	// GetAccountBalance returns current account figures.
	GetAccountBalance(ctx context.Context) (Balance, error)

	// GetPositions returns all open positions in the account.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetOptionChain returns the contracts for one underlying and expiration.
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]ChainOption, error)

	// GetQuote returns a REST snapshot quote for one symbol.
	GetQuote(ctx context.Context, symbol string) (Quote, error)

	// GetOrderHistory returns today's orders for the account.
	GetOrderHistory(ctx context.Context) ([]Order, error)

	// SubmitCondorOrder places the atomic 4-leg entry order.
	SubmitCondorOrder(ctx context.Context, req CondorOrderRequest) (Order, error)

	// SubmitCloseOrder places a 2-leg market order closing one side.
	SubmitCloseOrder(ctx context.Context, req CloseOrderRequest) (Order, error)

	// GetOrderStatus fetches the current state of a working order.
	GetOrderStatus(ctx context.Context, orderID string) (Order, error)

	// CancelOrder cancels a working order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetMarketClock returns the current session state.
	GetMarketClock(ctx context.Context) (MarketClock, error)
}

// Compile-time interface checks.
var (
	_ Broker = (*TastytradeClient)(nil)
	_ Broker = (*CircuitBreakerBroker)(nil)
)

// CircuitBreakerSettings tunes the broker circuit breaker.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings returns conservative defaults.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// CircuitBreakerBroker wraps a Broker so repeated brokerage failures shed
// load instead of hammering a degraded API.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps broker with the given settings.
func NewCircuitBreakerBroker(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	return &CircuitBreakerBroker{
		broker: b,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "broker",
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < settings.MinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= settings.FailureRatio
			},
		}),
	}
}

// execBreaker funnels a call through the circuit breaker preserving its type.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// GetAccountBalance implements Broker.
func (c *CircuitBreakerBroker) GetAccountBalance(ctx context.Context) (Balance, error) {
	return execBreaker(c.breaker, func() (Balance, error) {
		return c.broker.GetAccountBalance(ctx)
	})
}

// GetPositions implements Broker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execBreaker(c.breaker, func() ([]Position, error) {
		return c.broker.GetPositions(ctx)
	})
}

// GetOptionChain implements Broker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]ChainOption, error) {
	return execBreaker(c.breaker, func() ([]ChainOption, error) {
		return c.broker.GetOptionChain(ctx, underlying, expiration)
	})
}

// GetQuote implements Broker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	return execBreaker(c.breaker, func() (Quote, error) {
		return c.broker.GetQuote(ctx, symbol)
	})
}

// GetOrderHistory implements Broker.
func (c *CircuitBreakerBroker) GetOrderHistory(ctx context.Context) ([]Order, error) {
	return execBreaker(c.breaker, func() ([]Order, error) {
		return c.broker.GetOrderHistory(ctx)
	})
}

// SubmitCondorOrder implements Broker.
func (c *CircuitBreakerBroker) SubmitCondorOrder(ctx context.Context, req CondorOrderRequest) (Order, error) {
	return execBreaker(c.breaker, func() (Order, error) {
		return c.broker.SubmitCondorOrder(ctx, req)
	})
}

// SubmitCloseOrder implements Broker.
func (c *CircuitBreakerBroker) SubmitCloseOrder(ctx context.Context, req CloseOrderRequest) (Order, error) {
	return execBreaker(c.breaker, func() (Order, error) {
		return c.broker.SubmitCloseOrder(ctx, req)
	})
}

// GetOrderStatus implements Broker.
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	return execBreaker(c.breaker, func() (Order, error) {
		return c.broker.GetOrderStatus(ctx, orderID)
	})
}

// CancelOrder implements Broker.
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.broker.CancelOrder(ctx, orderID)
	})
	return err
}

// GetMarketClock implements Broker.
func (c *CircuitBreakerBroker) GetMarketClock(ctx context.Context) (MarketClock, error) {
	return execBreaker(c.breaker, func() (MarketClock, error) {
		return c.broker.GetMarketClock(ctx)
	})
}
