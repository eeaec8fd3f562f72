package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/strategy"
	"github.com/craig10e/tastytrade/internal/util"
)

// ExecutorConfig tunes order pricing and lifetime.
type ExecutorConfig struct {
	// TickSize is the option price increment for limit prices.
	TickSize float64
	// TimeInForce for entry orders.
	TimeInForce string
}

// DefaultExecutorConfig returns pricing defaults for SPX options.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TickSize:    0.05,
		TimeInForce: "Day",
	}
}

// EntryResult is the outcome of a filled condor entry.
type EntryResult struct {
	OrderID    string
	NetCredit  float64 // per contract, as filled
	PutCredit  float64 // put side's share of the fill
	CallCredit float64 // call side's share of the fill
	FilledAt   time.Time
}

// Executor turns selected strikes into brokerage orders and blocks until
// they fill. It also implements strategy.CloseSubmitter for the monitor.
type Executor struct {
	broker  broker.Broker
	manager *Manager
	logger  *log.Logger
	cfg     ExecutorConfig
}

var _ strategy.CloseSubmitter = (*Executor)(nil)

// NewExecutor creates an executor sharing the manager's broker.
func NewExecutor(b broker.Broker, manager *Manager, logger *log.Logger, cfg ExecutorConfig) *Executor {
	if cfg.TickSize <= 0 {
		cfg.TickSize = DefaultExecutorConfig().TickSize
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = DefaultExecutorConfig().TimeInForce
	}
	return &Executor{
		broker:  b,
		manager: manager,
		logger:  logger,
		cfg:     cfg,
	}
}

// ExecuteEntry submits the atomic 4-leg condor at a net-credit limit and
// waits for the fill. A fill timeout cancels the working order: a partial
// condor must never be left resting. The returned credits reflect the
// actual fill price, split across sides in proportion to the quoted
// per-side credits.
func (e *Executor) ExecuteEntry(ctx context.Context, strikes models.StrikeSet, quantity int) (*EntryResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", strategy.ErrExecutionFailed, quantity)
	}
	if err := strikes.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", strategy.ErrExecutionFailed, err)
	}

	limit := util.FloorToTick(strikes.NetCredit(), e.cfg.TickSize)
	req := broker.CondorOrderRequest{
		Underlying: strikes.Underlying,
		Legs: [4]broker.OrderLeg{
			{Symbol: strikes.ShortPut.Symbol, Action: broker.ActionSellToOpen, Quantity: quantity},
			{Symbol: strikes.LongPut.Symbol, Action: broker.ActionBuyToOpen, Quantity: quantity},
			{Symbol: strikes.ShortCall.Symbol, Action: broker.ActionSellToOpen, Quantity: quantity},
			{Symbol: strikes.LongCall.Symbol, Action: broker.ActionBuyToOpen, Quantity: quantity},
		},
		LimitCredit: limit,
		TimeInForce: e.cfg.TimeInForce,
	}

	e.logger.Printf("submitting condor entry: %s x%d, limit credit %.2f (quoted %.2f)",
		strikes.Underlying, quantity, limit, strikes.NetCredit())

	order, err := e.broker.SubmitCondorOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %v", strategy.ErrExecutionFailed, err)
	}

	filled, err := e.manager.AwaitFill(ctx, order.ID)
	if err != nil {
		if errors.Is(err, ErrFillTimeout) {
			e.manager.CancelQuietly(ctx, order.ID)
		}
		return nil, fmt.Errorf("%w: %v", strategy.ErrExecutionFailed, err)
	}

	actual := limit
	if filled.Price > 0 {
		actual = filled.Price
	}
	putCredit, callCredit := splitCredit(actual, strikes.PutCredit, strikes.CallCredit)

	e.logger.Printf("condor entry filled: order %s, net credit %.2f (put %.2f / call %.2f)",
		order.ID, actual, putCredit, callCredit)

	return &EntryResult{
		OrderID:    order.ID,
		NetCredit:  actual,
		PutCredit:  putCredit,
		CallCredit: callCredit,
		FilledAt:   time.Now().UTC(),
	}, nil
}

// CloseSide buys back one side's short and sells its wing as a market order,
// blocking until the fill. Implements strategy.CloseSubmitter.
func (e *Executor) CloseSide(ctx context.Context, trade *models.Trade, side models.Side) (string, error) {
	short := trade.Strikes.ShortLeg(side)
	wing := trade.Strikes.WingLeg(side)

	req := broker.CloseOrderRequest{
		Underlying: trade.Underlying,
		Legs: [2]broker.OrderLeg{
			{Symbol: short.Symbol, Action: broker.ActionBuyToClose, Quantity: trade.Quantity},
			{Symbol: wing.Symbol, Action: broker.ActionSellToClose, Quantity: trade.Quantity},
		},
	}

	e.logger.Printf("submitting %s side close for trade %s: buy %s / sell %s x%d",
		side, trade.ID, short.Symbol, wing.Symbol, trade.Quantity)

	order, err := e.broker.SubmitCloseOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", strategy.ErrCloseFailed, err)
	}

	if _, err := e.manager.AwaitFill(ctx, order.ID); err != nil {
		return "", fmt.Errorf("%w: %v", strategy.ErrCloseFailed, err)
	}
	return order.ID, nil
}

// splitCredit apportions a filled net credit across the two sides in
// proportion to their quoted credits.
func splitCredit(total, quotedPut, quotedCall float64) (put, call float64) {
	quoted := quotedPut + quotedCall
	if quoted <= 0 {
		return total / 2, total / 2
	}
	put = total * quotedPut / quoted
	return put, total - put
}
