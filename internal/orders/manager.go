// Package orders provides order execution and fill tracking for the
// trading loop.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
)

// ErrFillTimeout is returned when an order does not fill within the
// configured window.
var ErrFillTimeout = errors.New("order fill timeout")

// ErrOrderFailed is returned when the brokerage reports a terminal,
// unfilled order (rejected, cancelled, expired).
var ErrOrderFailed = errors.New("order failed")

// Config contains configuration for the order manager.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	PollInterval: 2 * time.Second,
	Timeout:      2 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// Manager polls working orders until they fill or fail.
type Manager struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewManager creates a new order manager instance.
func NewManager(b broker.Broker, logger *log.Logger, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	// Guard against nil logger
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}

	// Validate and clamp config values
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}

	return &Manager{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// AwaitFill polls an order until it is completely filled, returns a terminal
// failure, or the configured timeout elapses. The final order snapshot is
// returned alongside the outcome.
func (m *Manager) AwaitFill(ctx context.Context, orderID string) (broker.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	var last broker.Order
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return last, fmt.Errorf("order %s: %w after %s", orderID, ErrFillTimeout, m.config.Timeout)
			}
			return last, ctx.Err()
		case <-ticker.C:
			statusCtx, statusCancel := context.WithTimeout(ctx, m.config.CallTimeout)
			order, err := m.broker.GetOrderStatus(statusCtx, orderID)
			statusCancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					m.logger.Printf("order %s: status call timed out, retrying", orderID)
					continue
				}
				m.logger.Printf("order %s: status check failed: %v", orderID, err)
				continue
			}

			last = order
			m.logger.Printf("order %s status: %s, filled %.0f/%.0f",
				orderID, order.Status, order.FilledQuantity, order.Quantity)

			if order.IsCompletelyFilled() {
				return order, nil
			}
			if order.IsTerminal() {
				reason := order.RejectReason
				if reason == "" {
					reason = order.Status
				}
				return order, fmt.Errorf("order %s: %w: %s", orderID, ErrOrderFailed, reason)
			}
		}
	}
}

// CancelQuietly cancels a working order, logging rather than propagating a
// failure. Used after a fill timeout where the caller is already erroring.
func (m *Manager) CancelQuietly(ctx context.Context, orderID string) {
	cancelCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	if err := m.broker.CancelOrder(cancelCtx, orderID); err != nil {
		m.logger.Printf("order %s: cancel after timeout failed: %v", orderID, err)
		return
	}
	m.logger.Printf("order %s: cancelled after fill timeout", orderID)
}
