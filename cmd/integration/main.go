// Offline dry run of the condor entry pipeline against the simulated
// brokerage: chain fetch, strike selection, sizing, a filled entry, one
// closed side, and registry persistence. No credentials, no market session,
// no real orders.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/craig10e/tastytrade/internal/mock"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/orders"
	"github.com/craig10e/tastytrade/internal/storage"
	"github.com/craig10e/tastytrade/internal/strategy"
	"github.com/google/uuid"
)

func main() {
	logger := log.New(os.Stdout, "[DRYRUN] ", log.LstdFlags)
	if err := run(logger); err != nil {
		logger.Fatalf("dry run failed: %v", err)
	}
	logger.Println("dry run complete")
}

func run(logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const underlying = "SPX"
	sim := mock.NewBroker(underlying)

	storagePath := "data/trades_dryrun.json"
	store, err := storage.NewJSONStorage(storagePath)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	defer func() {
		if err := os.Remove(storagePath); err != nil && !os.IsNotExist(err) {
			logger.Printf("cleanup: %v", err)
		}
	}()

	// 1. Chain snapshot from the simulated brokerage.
	spotQuote, err := sim.GetQuote(ctx, underlying)
	if err != nil {
		return fmt.Errorf("fetching spot: %w", err)
	}
	spot := spotQuote.Mid()
	logger.Printf("spot %.2f", spot)

	now := time.Now().UTC()
	expiration := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	contracts, err := sim.GetOptionChain(ctx, underlying, expiration)
	if err != nil {
		return fmt.Errorf("fetching chain: %w", err)
	}
	logger.Printf("chain: %d contracts expiring %s", len(contracts), expiration.Format("2006-01-02"))

	snapshot := strategy.ChainSnapshot{
		Underlying: underlying,
		Expiration: expiration,
		Spot:       spot,
	}
	for _, c := range contracts {
		quote, err := sim.GetQuote(ctx, c.Symbol)
		if err != nil {
			continue
		}
		delta, err := sim.Delta(c.Symbol)
		if err != nil {
			continue
		}
		entry := strategy.ChainEntry{
			Symbol:         c.Symbol,
			StreamerSymbol: c.StreamerSymbol,
			Strike:         c.Strike,
			Type:           c.Type,
			Bid:            quote.Bid,
			Ask:            quote.Ask,
			Delta:          delta,
		}
		if c.Type == models.OptionTypePut {
			snapshot.Puts = append(snapshot.Puts, entry)
		} else {
			snapshot.Calls = append(snapshot.Calls, entry)
		}
	}

	// 2. Selection and sizing with representative parameters.
	strikes, err := strategy.SelectStrikes(snapshot, strategy.SelectorConfig{
		DeltaMin:          0.16,
		DeltaMax:          0.25,
		PutTargetCredit:   3.0,
		CallTargetCredit:  2.0,
		PutWingMaxCost:    1.5,
		CallWingMaxCost:   1.0,
		MinCreditFraction: 0.5,
	})
	if err != nil {
		return fmt.Errorf("strike selection: %w", err)
	}
	logger.Printf("selected puts %.0f/%.0f calls %.0f/%.0f, quoted credit %.2f",
		strikes.LongPut.Strike, strikes.ShortPut.Strike,
		strikes.ShortCall.Strike, strikes.LongCall.Strike, strikes.NetCredit())

	balance, err := sim.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}
	sizing, err := strategy.SizeCondor(20000, balance.DerivativeBuyingPower,
		strikes.PerContractRequirement(), 6)
	if err != nil {
		return fmt.Errorf("sizing: %w", err)
	}
	logger.Printf("sized %d contract(s), buying power used $%.2f, capped by %s",
		sizing.Quantity, sizing.BuyingPowerUsed, sizing.CappedBy)

	// 3. Entry through the real execution path.
	manager := orders.NewManager(sim, logger)
	executor := orders.NewExecutor(sim, manager, logger, orders.DefaultExecutorConfig())

	result, err := executor.ExecuteEntry(ctx, strikes, sizing.Quantity)
	if err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	logger.Printf("entry %s filled at %.2f (put %.2f / call %.2f)",
		result.OrderID, result.NetCredit, result.PutCredit, result.CallCredit)

	trade := models.NewTrade(uuid.NewString(), strikes, sizing.Quantity,
		result.PutCredit, result.CallCredit)
	trade.EntryOrderID = result.OrderID
	trade.EntryTime = result.FilledAt
	if err := store.AddTrade(trade); err != nil {
		return fmt.Errorf("registering trade: %w", err)
	}

	positions, err := sim.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}
	if len(positions) != 4 {
		return fmt.Errorf("expected 4 legs in the account, found %d", len(positions))
	}

	// 4. Close one side through the executor, as the monitor would.
	if err := trade.PutSide.TransitionState(models.SideClosingPending, "breach_confirmed"); err != nil {
		return fmt.Errorf("put side transition: %w", err)
	}
	if _, err := executor.CloseSide(ctx, trade, models.SidePut); err != nil {
		return fmt.Errorf("closing put side: %w", err)
	}
	if err := trade.PutSide.TransitionState(models.SideClosed, "close_filled"); err != nil {
		return fmt.Errorf("put side transition: %w", err)
	}
	if err := store.UpdateTrade(trade); err != nil {
		return fmt.Errorf("persisting trade: %w", err)
	}

	positions, _ = sim.GetPositions(ctx)
	if len(positions) != 2 {
		return fmt.Errorf("expected 2 legs after the put close, found %d", len(positions))
	}
	logger.Printf("put side closed, %d legs remain", len(positions))

	// 5. Registry round trip.
	reloaded, err := storage.NewJSONStorage(storagePath)
	if err != nil {
		return fmt.Errorf("reloading storage: %w", err)
	}
	got, err := reloaded.GetTrade(trade.ID)
	if err != nil {
		return fmt.Errorf("reloading trade: %w", err)
	}
	if got.PutSide.State != models.SideClosed || got.CallSide.State != models.SideOpen {
		return fmt.Errorf("reloaded trade in unexpected state: put=%s call=%s",
			got.PutSide.State, got.CallSide.State)
	}
	logger.Printf("registry round trip ok: trade %s put=%s call=%s",
		got.ID, got.PutSide.State, got.CallSide.State)

	return nil
}
