package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// flakyBroker fails every call until healed.
type flakyBroker struct {
	calls  int
	healed bool
}

var _ Broker = (*flakyBroker)(nil)

func (f *flakyBroker) fail() error {
	f.calls++
	if f.healed {
		return nil
	}
	return errors.New("brokerage unavailable")
}

func (f *flakyBroker) GetAccountBalance(context.Context) (Balance, error) {
	return Balance{DerivativeBuyingPower: 100000}, f.fail()
}
func (f *flakyBroker) GetPositions(context.Context) ([]Position, error) { return nil, f.fail() }
func (f *flakyBroker) GetOptionChain(context.Context, string, time.Time) ([]ChainOption, error) {
	return nil, f.fail()
}
func (f *flakyBroker) GetQuote(context.Context, string) (Quote, error) { return Quote{}, f.fail() }
func (f *flakyBroker) GetOrderHistory(context.Context) ([]Order, error) {
	return nil, f.fail()
}
func (f *flakyBroker) SubmitCondorOrder(context.Context, CondorOrderRequest) (Order, error) {
	return Order{}, f.fail()
}
func (f *flakyBroker) SubmitCloseOrder(context.Context, CloseOrderRequest) (Order, error) {
	return Order{}, f.fail()
}
func (f *flakyBroker) GetOrderStatus(context.Context, string) (Order, error) {
	return Order{}, f.fail()
}
func (f *flakyBroker) CancelOrder(context.Context, string) error { return f.fail() }
func (f *flakyBroker) GetMarketClock(context.Context) (MarketClock, error) {
	return MarketClock{}, f.fail()
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &flakyBroker{}
	settings := DefaultCircuitBreakerSettings()
	settings.MinRequests = 3
	cb := NewCircuitBreakerBroker(inner, settings)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = cb.GetAccountBalance(ctx)
	}

	if inner.calls >= 10 {
		t.Errorf("breaker never opened: inner saw %d of 10 calls", inner.calls)
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakyBroker{healed: true}
	cb := NewCircuitBreakerBroker(inner, DefaultCircuitBreakerSettings())

	balance, err := cb.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("healthy call failed: %v", err)
	}
	if balance.DerivativeBuyingPower != 100000 {
		t.Errorf("buying power = %v, want 100000", balance.DerivativeBuyingPower)
	}
}

func TestQuoteMid(t *testing.T) {
	q := Quote{Bid: 4.0, Ask: 5.0, Last: 10.0}
	if got := q.Mid(); got != 4.5 {
		t.Errorf("Mid = %v, want 4.5", got)
	}
	empty := Quote{Last: 10.0}
	if got := empty.Mid(); got != 10.0 {
		t.Errorf("Mid without book = %v, want last 10.0", got)
	}
}

func TestChainOptionTypeConstants(t *testing.T) {
	// The order builder relies on chain entries using the shared model types.
	opt := ChainOption{Type: models.OptionTypePut}
	if opt.Type != "put" {
		t.Errorf("put constant = %q", opt.Type)
	}
}
