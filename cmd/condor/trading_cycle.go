package main

import (
	"context"
	"fmt"
	"time"

	"github.com/craig10e/tastytrade/internal/marketdata"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/strategy"
	"github.com/google/uuid"
)

const (
	// chainStrikeBand bounds the stream subscription around spot.
	chainStrikeBand = 0.10
	// quoteWarmup is how long to wait for streamed quotes before selection.
	quoteWarmup     = 10 * time.Second
	warmupPoll      = 500 * time.Millisecond
	warmupThreshold = 0.5
)

// TradingCycle executes one poll tick of the strategy loop.
type TradingCycle struct {
	bot *Bot
}

// NewTradingCycle creates a cycle handler bound to the bot's collaborators.
func NewTradingCycle(bot *Bot) *TradingCycle {
	return &TradingCycle{bot: bot}
}

// Run performs one tick: session-end sweep, per-side exit checks, and the
// once-per-session entry.
func (tc *TradingCycle) Run(ctx context.Context) {
	cfg := tc.bot.config
	now := tc.bot.clock().In(cfg.Location())

	if !cfg.IsTradingDay(now) {
		return
	}

	if !now.Before(cfg.SessionEndFor(now)) {
		tc.sweepSessionEnd()
		return
	}

	open := tc.marketOpen(ctx, now)
	if !open {
		return
	}

	for _, trade := range tc.bot.storage.GetActiveTrades() {
		tc.bot.monitor.CheckTrade(ctx, trade)
		if err := tc.bot.storage.UpdateTrade(trade); err != nil {
			tc.bot.logger.Printf("persisting trade %s: %v", trade.ID, err)
			continue
		}
		if !trade.IsActive() {
			if err := tc.bot.storage.ArchiveTrade(trade.ID); err != nil {
				tc.bot.logger.Printf("archiving trade %s: %v", trade.ID, err)
			}
		}
	}

	if cfg.IsWithinEntryWindow(now) && !tc.entryAttemptedToday(now) &&
		!tc.bot.storage.HasEntryOn(now, cfg.Location()) {
		tc.bot.lastEntryAttempt = now
		if err := tc.enterCondor(ctx, now); err != nil {
			tc.bot.logger.Printf("entry attempt failed, no retry this session: %v", err)
		}
	}
}

// sweepSessionEnd expires every open, unescalated side with no order sent.
// 0DTE contracts are worthless after the close; only escalated sides are
// left for a human.
func (tc *TradingCycle) sweepSessionEnd() {
	for _, trade := range tc.bot.storage.GetActiveTrades() {
		tc.bot.monitor.ExpireOpenSides(trade)
		if err := tc.bot.storage.UpdateTrade(trade); err != nil {
			tc.bot.logger.Printf("persisting trade %s: %v", trade.ID, err)
			continue
		}
		if !trade.IsActive() {
			if err := tc.bot.storage.ArchiveTrade(trade.ID); err != nil {
				tc.bot.logger.Printf("archiving trade %s: %v", trade.ID, err)
			}
		}
	}
}

// marketOpen checks the brokerage clock, falling back to configured session
// times when the call fails.
func (tc *TradingCycle) marketOpen(ctx context.Context, now time.Time) bool {
	clockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clock, err := tc.bot.broker.GetMarketClock(clockCtx)
	if err != nil {
		tc.bot.logger.Printf("market clock unavailable (%v), falling back to configured session", err)
		return tc.bot.config.IsTradingDay(now) && now.Before(tc.bot.config.SessionEndFor(now))
	}
	return clock.IsOpen()
}

func (tc *TradingCycle) entryAttemptedToday(now time.Time) bool {
	if tc.bot.lastEntryAttempt.IsZero() {
		return false
	}
	loc := tc.bot.config.Location()
	ay, am, ad := tc.bot.lastEntryAttempt.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return ay == ny && am == nm && ad == nd
}

// enterCondor runs the full entry pipeline: fetch today's chain, stream
// quotes and greeks for contracts near spot, select strikes, size, execute,
// and register the trade. Any stage failing aborts the attempt; the session
// latch prevents a retry.
func (tc *TradingCycle) enterCondor(ctx context.Context, now time.Time) error {
	cfg := tc.bot.config
	underlying := cfg.Strategy.Underlying

	spotQuote, err := tc.bot.broker.GetQuote(ctx, underlying)
	if err != nil {
		return fmt.Errorf("fetching %s spot: %w", underlying, err)
	}
	spot := spotQuote.Mid()
	if spot <= 0 {
		return fmt.Errorf("no usable %s spot price", underlying)
	}

	expiration := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	contracts, err := tc.bot.broker.GetOptionChain(ctx, underlying, expiration)
	if err != nil {
		return fmt.Errorf("fetching option chain: %w", err)
	}
	if len(contracts) == 0 {
		return fmt.Errorf("no %s contracts expiring %s", underlying, expiration.Format("2006-01-02"))
	}

	// Subscribe a band of strikes around spot rather than the whole chain.
	var subs []marketdata.Subscription
	var symbols []string
	byView := make(map[string]chainContract)
	for _, c := range contracts {
		if c.Strike < spot*(1-chainStrikeBand) || c.Strike > spot*(1+chainStrikeBand) {
			continue
		}
		subs = append(subs, marketdata.Subscription{
			StreamerSymbol: c.StreamerSymbol,
			CacheSymbol:    c.Symbol,
			WithGreeks:     true,
		})
		symbols = append(symbols, c.Symbol)
		byView[c.Symbol] = chainContract{
			streamerSymbol: c.StreamerSymbol,
			strike:         c.Strike,
			typ:            c.Type,
		}
	}
	tc.bot.stream.Subscribe(subs...)

	if err := tc.awaitQuotes(ctx, symbols); err != nil {
		return err
	}

	snapshot := strategy.ChainSnapshot{
		Underlying: underlying,
		Expiration: expiration,
		Spot:       spot,
	}
	for _, symbol := range symbols {
		quote, ok := tc.bot.cache.Latest(symbol)
		if !ok || !quote.HasBook {
			continue
		}
		contract := byView[symbol]
		entry := strategy.ChainEntry{
			Symbol:         symbol,
			StreamerSymbol: contract.streamerSymbol,
			Strike:         contract.strike,
			Type:           contract.typ,
			Bid:            quote.Bid,
			Ask:            quote.Ask,
		}
		if quote.HasGreeks {
			entry.Delta = quote.Delta
		}
		if contract.typ == models.OptionTypePut {
			snapshot.Puts = append(snapshot.Puts, entry)
		} else {
			snapshot.Calls = append(snapshot.Calls, entry)
		}
	}

	strikes, err := strategy.SelectStrikes(snapshot, strategy.SelectorConfig{
		DeltaMin:          cfg.Strategy.Entry.DeltaMin,
		DeltaMax:          cfg.Strategy.Entry.DeltaMax,
		PutTargetCredit:   cfg.Strategy.Entry.PutTargetCredit,
		CallTargetCredit:  cfg.Strategy.Entry.CallTargetCredit,
		PutWingMaxCost:    cfg.Strategy.Entry.PutWingMaxCost,
		CallWingMaxCost:   cfg.Strategy.Entry.CallWingMaxCost,
		MinCreditFraction: cfg.Strategy.Entry.MinCreditFraction,
	})
	if err != nil {
		return fmt.Errorf("strike selection: %w", err)
	}

	tc.bot.logger.Printf("selected condor: puts %.0f/%.0f, calls %.0f/%.0f, quoted credit %.2f",
		strikes.LongPut.Strike, strikes.ShortPut.Strike,
		strikes.ShortCall.Strike, strikes.LongCall.Strike, strikes.NetCredit())

	balance, err := tc.bot.broker.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}

	sizing, err := strategy.SizeCondor(
		cfg.Strategy.Risk.Budget,
		balance.DerivativeBuyingPower,
		strikes.PerContractRequirement(),
		cfg.Strategy.Risk.MaxContracts,
	)
	if err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	tc.bot.logger.Printf("sized %d contract(s), buying power used $%.2f, capped by %s",
		sizing.Quantity, sizing.BuyingPowerUsed, sizing.CappedBy)

	result, err := tc.bot.executor.ExecuteEntry(ctx, strikes, sizing.Quantity)
	if err != nil {
		return err
	}

	trade := models.NewTrade(uuid.NewString(), strikes, sizing.Quantity, result.PutCredit, result.CallCredit)
	trade.EntryOrderID = result.OrderID
	trade.EntryTime = result.FilledAt

	if err := tc.bot.storage.AddTrade(trade); err != nil {
		// The order filled; losing the registry entry would orphan live legs.
		tc.bot.logger.Printf("ALERT: filled trade %s could not be registered: %v", trade.ID, err)
		return err
	}

	tc.subscribeTrade(trade)
	tc.bot.logger.Printf("trade %s registered: %d contract(s), credit %.2f (put %.2f / call %.2f)",
		trade.ID, trade.Quantity, result.NetCredit, result.PutCredit, result.CallCredit)
	return nil
}

type chainContract struct {
	streamerSymbol string
	strike         float64
	typ            models.OptionType
}

// awaitQuotes blocks until enough subscribed contracts have both book and
// greeks cached, or the warmup window expires with too little data.
func (tc *TradingCycle) awaitQuotes(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no contracts near spot to quote")
	}

	deadline := time.NewTimer(quoteWarmup)
	defer deadline.Stop()
	tick := time.NewTicker(warmupPoll)
	defer tick.Stop()

	for {
		ready := 0
		for _, symbol := range symbols {
			if quote, ok := tc.bot.cache.Latest(symbol); ok && quote.HasBook && quote.HasGreeks {
				ready++
			}
		}
		if ready == len(symbols) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if float64(ready) >= warmupThreshold*float64(len(symbols)) {
				tc.bot.logger.Printf("quote warmup expired with %d/%d contracts ready, proceeding",
					ready, len(symbols))
				return nil
			}
			return fmt.Errorf("quote warmup expired with only %d/%d contracts ready", ready, len(symbols))
		case <-tick.C:
		}
	}
}

// subscribeTrade streams quotes for a trade's legs so the monitor sees
// fresh asks. Legs recovered without a streamer symbol are skipped; the
// reconciler fills them in when the chain lookup succeeds.
func (tc *TradingCycle) subscribeTrade(trade *models.Trade) {
	var subs []marketdata.Subscription
	for _, leg := range trade.Strikes.Legs() {
		if leg.StreamerSymbol == "" {
			continue
		}
		subs = append(subs, marketdata.Subscription{
			StreamerSymbol: leg.StreamerSymbol,
			CacheSymbol:    leg.Symbol,
			WithGreeks:     false,
		})
	}
	if len(subs) > 0 {
		tc.bot.stream.Subscribe(subs...)
	}
}
