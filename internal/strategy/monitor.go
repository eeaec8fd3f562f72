package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/craig10e/tastytrade/internal/marketdata"
	"github.com/craig10e/tastytrade/internal/models"
)

// QuoteSource supplies the latest cached quote for a symbol. The monitor
// reads the cache once per tick rather than reacting to every push.
type QuoteSource interface {
	Latest(symbol string) (marketdata.Quote, bool)
}

// CloseSubmitter closes one side of a trade, returning the close order id
// once the order has filled.
type CloseSubmitter interface {
	CloseSide(ctx context.Context, trade *models.Trade, side models.Side) (string, error)
}

// MonitorConfig carries the exit parameters.
type MonitorConfig struct {
	ExitThreshold    float64       // fraction of the side's entry credit
	Confirmation     time.Duration // continuous breach duration before closing
	MaxCloseFailures int           // consecutive failures before escalating
}

// Monitor evaluates exit conditions for each side of each trade. The two
// sides of one trade are fully independent: one side's close, failure, or
// escalation never affects the other.
//
// A side exits only when its cost-to-close exceeds threshold x entry credit
// continuously for the confirmation duration. A breach that clears resets
// the timer, so quote spikes shorter than the window never trigger a close.
type Monitor struct {
	cfg    MonitorConfig
	quotes QuoteSource
	closer CloseSubmitter
	logger *log.Logger
	now    func() time.Time
}

// NewMonitor creates a monitor. logger must not be nil.
func NewMonitor(cfg MonitorConfig, quotes QuoteSource, closer CloseSubmitter, logger *log.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		quotes: quotes,
		closer: closer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CheckTrade evaluates both sides for one tick. Side errors are logged, not
// returned: a tick is isolated and one side's failure must not block the
// other's evaluation.
func (m *Monitor) CheckTrade(ctx context.Context, trade *models.Trade) {
	m.CheckSide(ctx, trade, models.SidePut)
	m.CheckSide(ctx, trade, models.SideCall)
}

// CheckSide runs one evaluation tick for a single side.
func (m *Monitor) CheckSide(ctx context.Context, trade *models.Trade, side models.Side) {
	status := trade.SideStatusFor(side)
	if !status.IsActive() || status.Escalated {
		return
	}

	if status.State == models.SideClosingPending {
		m.attemptClose(ctx, trade, status)
		return
	}

	short := trade.Strikes.ShortLeg(side)
	quote, ok := m.quotes.Latest(short.Symbol)
	if !ok || !quote.HasBook {
		m.logger.Printf("trade %s %s side: no cached quote for %s, skipping tick",
			trade.ID, side, short.Symbol)
		return
	}

	costToClose := quote.Ask
	limit := m.cfg.ExitThreshold * status.EntryCredit
	now := m.now()

	if costToClose <= limit {
		if status.FirstBreach != nil {
			m.logger.Printf("trade %s %s side: breach cleared after %s (cost %.2f <= limit %.2f)",
				trade.ID, side, now.Sub(*status.FirstBreach).Round(time.Second), costToClose, limit)
			status.FirstBreach = nil
		}
		return
	}

	if status.FirstBreach == nil {
		start := now
		status.FirstBreach = &start
		m.logger.Printf("trade %s %s side: breach started, cost %.2f > limit %.2f (credit %.2f x %.2f)",
			trade.ID, side, costToClose, limit, status.EntryCredit, m.cfg.ExitThreshold)
		return
	}

	held := now.Sub(*status.FirstBreach)
	if held < m.cfg.Confirmation {
		return
	}

	m.logger.Printf("trade %s %s side: breach held %s >= %s, closing (cost %.2f, limit %.2f)",
		trade.ID, side, held.Round(time.Second), m.cfg.Confirmation, costToClose, limit)
	if err := status.TransitionState(models.SideClosingPending, "breach_confirmed"); err != nil {
		m.logger.Printf("trade %s %s side: %v", trade.ID, side, err)
		return
	}
	status.CloseReason = fmt.Sprintf("cost to close %.2f exceeded %.2f for %s",
		costToClose, limit, m.cfg.Confirmation)
	m.attemptClose(ctx, trade, status)
}

// attemptClose submits the side's close order. Failures are retried on
// subsequent ticks up to the consecutive-failure bound, then the side is
// escalated for human intervention while the other side keeps trading.
func (m *Monitor) attemptClose(ctx context.Context, trade *models.Trade, status *models.SideStatus) {
	orderID, err := m.closer.CloseSide(ctx, trade, status.Side)
	if err != nil {
		status.CloseFailures++
		m.logger.Printf("trade %s %s side: close attempt %d/%d failed: %v",
			trade.ID, status.Side, status.CloseFailures, m.cfg.MaxCloseFailures, err)
		if status.CloseFailures >= m.cfg.MaxCloseFailures {
			status.Escalated = true
			m.logger.Printf("ALERT: trade %s %s side: %d consecutive close failures, manual intervention required",
				trade.ID, status.Side, status.CloseFailures)
		}
		return
	}

	status.CloseOrderID = orderID
	status.CloseFailures = 0
	if err := status.TransitionState(models.SideClosed, "close_filled"); err != nil {
		m.logger.Printf("trade %s %s side: %v", trade.ID, status.Side, err)
		return
	}
	m.logger.Printf("trade %s %s side: closed, order %s", trade.ID, status.Side, orderID)
}

// ExpireOpenSides runs the session-end sweep: sides with no confirmed breach
// expire with no order sent, and unescalated pending closes are abandoned to
// expiration as well. Escalated sides are left untouched for a human.
func (m *Monitor) ExpireOpenSides(trade *models.Trade) {
	for _, side := range []models.Side{models.SidePut, models.SideCall} {
		status := trade.SideStatusFor(side)
		if !status.IsActive() || status.Escalated {
			continue
		}
		if err := status.TransitionState(models.SideExpired, "session_end"); err != nil {
			m.logger.Printf("trade %s %s side: %v", trade.ID, side, err)
			continue
		}
		m.logger.Printf("trade %s %s side: expired at session end with no order", trade.ID, side)
	}
}

// SetClock overrides the monitor's time source. Test hook.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}
