// Package mock provides an in-memory brokerage with a synthetic SPX option
// chain. It backs the offline dry-run harness and lets the entry pipeline be
// exercised without credentials or a market session.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/util"
)

// secureFloat64 generates a cryptographically secure random float64 in [0, 1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// Broker simulates the brokerage: a random-walking SPX spot, a synthetic
// 0DTE chain priced off a volatility approximation, and orders that fill
// immediately at their limit. Safe for concurrent use.
type Broker struct {
	mu         sync.Mutex
	underlying string
	spot       float64
	vol        float64 // annualized, e.g. 0.14
	balance    float64
	positions  map[string]broker.Position
	orders     map[string]broker.Order
	orderSeq   int
}

// NewBroker creates a simulated brokerage for one underlying. Spot starts
// near 6000 and volatility near 14%, both lightly randomized so repeated
// runs do not replay identical chains.
func NewBroker(underlying string) *Broker {
	return &Broker{
		underlying: underlying,
		spot:       5950 + secureFloat64()*100,
		vol:        0.12 + secureFloat64()*0.06,
		balance:    250000,
		positions:  make(map[string]broker.Position),
		orders:     make(map[string]broker.Order),
	}
}

func (b *Broker) GetAccountBalance(context.Context) (broker.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return broker.Balance{
		AccountNumber:         "SIM0000001",
		CashBalance:           b.balance,
		NetLiquidatingValue:   b.balance,
		DerivativeBuyingPower: b.balance,
	}, nil
}

func (b *Broker) GetPositions(context.Context) ([]broker.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetQuote returns the walking spot for the underlying, or a synthetic
// option quote for an OCC leg symbol.
func (b *Broker) GetQuote(_ context.Context, symbol string) (broker.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if symbol == b.underlying {
		b.spot += (secureFloat64() - 0.5) * 2
		return broker.Quote{
			Symbol: symbol,
			Bid:    b.spot - 0.25,
			Ask:    b.spot + 0.25,
			Last:   b.spot,
		}, nil
	}

	sym, err := broker.ParseOptionSymbol(symbol)
	if err != nil {
		return broker.Quote{}, fmt.Errorf("unknown symbol %q", symbol)
	}
	mid := b.optionPrice(sym.Strike, sym.Type, sym.Expiration)
	return broker.Quote{
		Symbol: symbol,
		Bid:    math.Max(0.05, mid-0.10),
		Ask:    mid + 0.10,
		Last:   mid,
	}, nil
}

// GetOptionChain generates strikes every 5 points within 12% of spot.
func (b *Broker) GetOptionChain(_ context.Context, underlying string, expiration time.Time) ([]broker.ChainOption, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if underlying != b.underlying {
		return nil, fmt.Errorf("no chain for %q", underlying)
	}

	const interval = 5.0
	low := math.Floor(b.spot*0.88/interval) * interval
	high := math.Ceil(b.spot*1.12/interval) * interval

	root := b.underlying + "W" // weekly root, e.g. SPXW
	var chain []broker.ChainOption
	for strike := low; strike <= high; strike += interval {
		for _, typ := range []models.OptionType{models.OptionTypePut, models.OptionTypeCall} {
			occ := broker.BuildOptionSymbol(root, expiration, typ, strike)
			chain = append(chain, broker.ChainOption{
				Symbol:         occ,
				StreamerSymbol: streamerSymbol(root, expiration, typ, strike),
				Underlying:     underlying,
				Expiration:     expiration,
				Strike:         strike,
				Type:           typ,
			})
		}
	}
	return chain, nil
}

// Delta approximates moneyness with an exponential decay in distance from
// spot, the same shape real 0DTE chains show near the money.
func (b *Broker) optionDelta(strike float64, typ models.OptionType) float64 {
	decay := math.Exp(-math.Abs(strike-b.spot) * 0.012)
	switch {
	case typ == models.OptionTypePut && strike <= b.spot:
		return 0.5 * decay
	case typ == models.OptionTypePut:
		return 0.5 * (2 - decay)
	case strike >= b.spot:
		return 0.5 * decay
	default:
		return 0.5 * (2 - decay)
	}
}

// optionPrice is a coarse same-day premium: intrinsic plus a volatility-
// scaled time value weighted by delta, snapped to the SPX nickel tick.
// Good enough for selection and sizing.
func (b *Broker) optionPrice(strike float64, typ models.OptionType, expiration time.Time) float64 {
	hours := math.Max(1, time.Until(expiration.Add(20*time.Hour)).Hours())
	timeValue := b.vol * b.spot * math.Sqrt(hours/(365*24))

	var intrinsic float64
	if typ == models.OptionTypePut {
		intrinsic = math.Max(0, strike-b.spot)
	} else {
		intrinsic = math.Max(0, b.spot-strike)
	}
	mid := util.RoundToTick(intrinsic+timeValue*b.optionDelta(strike, typ), 0.05)
	return math.Max(0.05, mid)
}

// Delta exposes the synthetic delta for a chain symbol, letting callers
// build a full selection snapshot without a greeks stream.
func (b *Broker) Delta(symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym, err := broker.ParseOptionSymbol(symbol)
	if err != nil {
		return 0, err
	}
	return b.optionDelta(sym.Strike, sym.Type), nil
}

func (b *Broker) GetOrderHistory(context.Context) ([]broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	return out, nil
}

// SubmitCondorOrder fills immediately at the limit credit and records the
// four legs as positions.
func (b *Broker) SubmitCondorOrder(_ context.Context, req broker.CondorOrderRequest) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qty := float64(req.Legs[0].Quantity)
	order := b.newOrderLocked(req.Legs[:], qty)
	order.Price = req.LimitCredit
	order.PriceEffect = "Credit"
	order.TimeInForce = req.TimeInForce
	b.orders[order.ID] = order

	for _, leg := range req.Legs {
		b.applyLegLocked(leg)
	}
	return order, nil
}

// SubmitCloseOrder fills immediately at the side's current cost and removes
// the legs.
func (b *Broker) SubmitCloseOrder(_ context.Context, req broker.CloseOrderRequest) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qty := float64(req.Legs[0].Quantity)
	order := b.newOrderLocked(req.Legs[:], qty)
	order.PriceEffect = "Debit"
	for _, leg := range req.Legs {
		if sym, err := broker.ParseOptionSymbol(leg.Symbol); err == nil {
			order.Price += b.optionPrice(sym.Strike, sym.Type, sym.Expiration)
		}
	}
	b.orders[order.ID] = order

	for _, leg := range req.Legs {
		b.applyLegLocked(leg)
	}
	return order, nil
}

func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("order %q not found", orderID)
	}
	return order, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %q not found", orderID)
	}
	if order.IsTerminal() {
		return fmt.Errorf("order %q already %s", orderID, order.Status)
	}
	order.Status = broker.OrderStatusCancelled
	b.orders[orderID] = order
	return nil
}

func (b *Broker) GetMarketClock(context.Context) (broker.MarketClock, error) {
	return broker.MarketClock{State: "open", Timezone: "America/New_York"}, nil
}

func (b *Broker) newOrderLocked(legs []broker.OrderLeg, qty float64) broker.Order {
	b.orderSeq++
	return broker.Order{
		ID:             fmt.Sprintf("sim-%d", b.orderSeq),
		Status:         broker.OrderStatusFilled,
		OrderType:      "Limit",
		Quantity:       qty,
		FilledQuantity: qty,
		Legs:           append([]broker.OrderLeg(nil), legs...),
		ReceivedAt:     time.Now().UTC(),
	}
}

// applyLegLocked nets an order leg into the position book.
func (b *Broker) applyLegLocked(leg broker.OrderLeg) {
	signed := float64(leg.Quantity)
	if leg.Action == broker.ActionSellToOpen || leg.Action == broker.ActionSellToClose {
		signed = -signed
	}

	pos, ok := b.positions[leg.Symbol]
	if !ok {
		pos = broker.Position{
			Symbol:           leg.Symbol,
			InstrumentType:   "Equity Option",
			UnderlyingSymbol: b.underlying,
		}
	}
	current := pos.SignedQuantity() + signed
	switch {
	case current == 0:
		delete(b.positions, leg.Symbol)
		return
	case current < 0:
		pos.Direction = "Short"
		pos.Quantity = -current
	default:
		pos.Direction = "Long"
		pos.Quantity = current
	}
	b.positions[leg.Symbol] = pos
}

// streamerSymbol renders the DXLink form, e.g. ".SPXW260306P5900".
func streamerSymbol(root string, expiration time.Time, typ models.OptionType, strike float64) string {
	cp := "C"
	if typ == models.OptionTypePut {
		cp = "P"
	}
	s := fmt.Sprintf("%g", strike)
	return "." + strings.ToUpper(root) + expiration.Format("060102") + cp + s
}

var _ broker.Broker = (*Broker)(nil)
