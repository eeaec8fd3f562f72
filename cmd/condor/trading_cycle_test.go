package main

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/config"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/storage"
	"github.com/craig10e/tastytrade/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cycleConfig() *config.Config {
	cfg := reconcilerConfig()
	cfg.Strategy.Entry.Time = "14:30"
	cfg.Strategy.Entry.Tolerance = "5m"
	cfg.Schedule.SessionEnd = "16:00"
	return cfg
}

// newTestBot wires a bot with only the collaborators these cycle paths
// touch; the stream and executor are exercised by their own package tests.
func newTestBot(b *fakeBroker, now time.Time) (*Bot, *storage.MockStorage) {
	store := storage.NewMockStorage()
	logger := log.New(io.Discard, "", 0)
	cfg := cycleConfig()
	bot := &Bot{
		config:  cfg,
		broker:  b,
		storage: store,
		monitor: strategy.NewMonitor(strategy.MonitorConfig{
			ExitThreshold:    0.9,
			Confirmation:     2 * time.Minute,
			MaxCloseFailures: 3,
		}, nil, nil, logger),
		logger: logger,
		clock:  func() time.Time { return now },
	}
	return bot, store
}

// Wednesday inside the entry window.
var cycleNow = time.Date(2026, time.March, 4, 14, 30, 0, 0, time.UTC)

func TestCycleEntryAttemptedOncePerSession(t *testing.T) {
	// Empty chain makes the entry pipeline fail after the chain fetch, so
	// chainCalls counts attempts.
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, _ := newTestBot(b, cycleNow)
	cycle := NewTradingCycle(bot)

	cycle.Run(context.Background())
	require.Equal(t, 1, b.chainCalls, "first tick in the window should attempt entry")
	assert.False(t, bot.lastEntryAttempt.IsZero())

	cycle.Run(context.Background())
	cycle.Run(context.Background())
	assert.Equal(t, 1, b.chainCalls, "a failed attempt must not be retried the same session")
}

func TestCycleSkipsEntryOutsideWindow(t *testing.T) {
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, _ := newTestBot(b, cycleNow.Add(20*time.Minute))
	NewTradingCycle(bot).Run(context.Background())

	assert.Zero(t, b.chainCalls)
	assert.True(t, bot.lastEntryAttempt.IsZero())
}

func TestCycleSkipsEntryWhenRegistryHasOne(t *testing.T) {
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, store := newTestBot(b, cycleNow)

	// An archived trade from earlier today still consumes the session entry.
	done := *models.NewTrade("earlier", recoveredStrikes(), 1, 3.0, 2.0)
	done.EntryTime = cycleNow.Add(-time.Hour)
	store.AddHistoryTrade(done)

	NewTradingCycle(bot).Run(context.Background())
	assert.Zero(t, b.chainCalls)
}

func TestCycleSweepsAtSessionEnd(t *testing.T) {
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, store := newTestBot(b, cycleNow.Add(2*time.Hour)) // 16:30, past the cutoff

	trade := models.NewTrade("sweep-1", recoveredStrikes(), 1, 3.0, 2.0)
	require.NoError(t, store.AddTrade(trade))

	NewTradingCycle(bot).Run(context.Background())

	assert.Empty(t, store.GetActiveTrades())
	require.True(t, store.HasInHistory("sweep-1"))
	archived := store.GetHistory()[0]
	assert.Equal(t, models.SideExpired, archived.PutSide.State)
	assert.Equal(t, models.SideExpired, archived.CallSide.State)
}

func TestCycleSweepLeavesEscalatedSides(t *testing.T) {
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, store := newTestBot(b, cycleNow.Add(2*time.Hour))

	trade := models.NewTrade("sweep-2", recoveredStrikes(), 1, 3.0, 2.0)
	require.NoError(t, trade.CallSide.TransitionState(models.SideClosingPending, "breach_confirmed"))
	trade.CallSide.Escalated = true
	require.NoError(t, store.AddTrade(trade))

	NewTradingCycle(bot).Run(context.Background())

	trades := store.GetActiveTrades()
	require.Len(t, trades, 1, "an escalated side keeps the trade active for a human")
	assert.Equal(t, models.SideExpired, trades[0].PutSide.State)
	assert.Equal(t, models.SideClosingPending, trades[0].CallSide.State)
}

func TestCycleIdleOnWeekend(t *testing.T) {
	saturday := time.Date(2026, time.March, 7, 16, 30, 0, 0, time.UTC)
	b := &fakeBroker{clock: broker.MarketClock{State: "open"}}
	bot, store := newTestBot(b, saturday)

	trade := models.NewTrade("weekend-1", recoveredStrikes(), 1, 3.0, 2.0)
	require.NoError(t, store.AddTrade(trade))

	NewTradingCycle(bot).Run(context.Background())

	trades := store.GetActiveTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, models.SideOpen, trades[0].PutSide.State)
	assert.Zero(t, b.chainCalls)
}

// recoveredStrikes builds a valid strike set for cycle tests.
func recoveredStrikes() models.StrikeSet {
	exp := todayUTC()
	leg := func(typ models.OptionType, strike float64, role models.LegRole) models.OptionLeg {
		return models.OptionLeg{
			Symbol: broker.BuildOptionSymbol("SPXW", exp, typ, strike),
			Strike: strike,
			Type:   typ,
			Role:   role,
		}
	}
	return models.StrikeSet{
		Underlying: "SPX",
		Expiration: exp,
		ShortPut:   leg(models.OptionTypePut, 5900, models.RoleShortPut),
		LongPut:    leg(models.OptionTypePut, 5870, models.RoleLongPutWing),
		ShortCall:  leg(models.OptionTypeCall, 6100, models.RoleShortCall),
		LongCall:   leg(models.OptionTypeCall, 6125, models.RoleLongCallWing),
		PutCredit:  3.0,
		CallCredit: 2.0,
	}
}
