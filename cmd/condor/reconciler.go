package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/config"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/storage"
	"github.com/google/uuid"
)

// Reconciler adopts condor positions the brokerage reports but the registry
// does not track, so a restart mid-session resumes monitoring instead of
// abandoning live legs.
type Reconciler struct {
	broker  broker.Broker
	storage storage.Interface
	config  *config.Config
	logger  *log.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(b broker.Broker, store storage.Interface, cfg *config.Config, logger *log.Logger) *Reconciler {
	return &Reconciler{
		broker:  b,
		storage: store,
		config:  cfg,
		logger:  logger,
	}
}

// legPosition pairs a brokerage position with its parsed option identity.
type legPosition struct {
	position broker.Position
	symbol   broker.OptionSymbol
	signed   float64
}

// Reconcile scans the account for today's option legs on the configured
// underlying. A clean 4-leg condor shape that the registry does not know is
// adopted as a recovered trade; anything ambiguous is logged and skipped so
// a human can resolve it. Already-tracked positions are left alone.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	underlying := r.config.Strategy.Underlying
	now := time.Now().In(r.config.Location())

	positions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}

	var legs []legPosition
	for _, p := range positions {
		sym, err := broker.ParseOptionSymbol(p.Symbol)
		if err != nil {
			continue // equities, futures, non-OCC symbols
		}
		if !sym.MatchesUnderlying(underlying) || !sym.SameSession(now) {
			continue
		}
		legs = append(legs, legPosition{position: p, symbol: sym, signed: p.SignedQuantity()})
	}

	if len(legs) == 0 {
		r.logger.Println("reconciliation: no condor legs in the account for today")
		return nil
	}

	condor, err := classifyCondor(legs)
	if err != nil {
		r.logger.Printf("ALERT: reconciliation skipped, positions need manual review: %v", err)
		return nil
	}

	legSymbols := [4]string{
		condor.shortPut.position.Symbol,
		condor.longPut.position.Symbol,
		condor.shortCall.position.Symbol,
		condor.longCall.position.Symbol,
	}
	if r.storage.HasTradeForLegs(legSymbols) {
		r.logger.Println("reconciliation: condor already tracked")
		return nil
	}

	trade, err := r.buildRecoveredTrade(ctx, condor, now)
	if err != nil {
		return fmt.Errorf("building recovered trade: %w", err)
	}

	if err := r.storage.AddTrade(trade); err != nil {
		return fmt.Errorf("registering recovered trade: %w", err)
	}

	r.logger.Printf("recovered untracked condor as trade %s: %d contract(s), credit %.2f (estimated=%t)",
		trade.ID, trade.Quantity, trade.PutSide.EntryCredit+trade.CallSide.EntryCredit, trade.CreditEstimated)
	return nil
}

// condorShape is the classified 4-leg position.
type condorShape struct {
	shortPut  legPosition
	longPut   legPosition
	shortCall legPosition
	longCall  legPosition
	quantity  int
}

// classifyCondor maps today's legs onto the condor shape: exactly one short
// and one long per side, wings outside the shorts, uniform quantity.
func classifyCondor(legs []legPosition) (condorShape, error) {
	if len(legs) != 4 {
		return condorShape{}, fmt.Errorf("expected 4 legs, found %d", len(legs))
	}

	var shape condorShape
	assign := func(slot *legPosition, leg legPosition, name string) error {
		if slot.position.Symbol != "" {
			return fmt.Errorf("duplicate %s leg (%s and %s)", name, slot.position.Symbol, leg.position.Symbol)
		}
		*slot = leg
		return nil
	}

	for _, leg := range legs {
		short := leg.signed < 0
		isPut := leg.symbol.Type == models.OptionTypePut
		var err error
		switch {
		case short && isPut:
			err = assign(&shape.shortPut, leg, "short put")
		case !short && isPut:
			err = assign(&shape.longPut, leg, "long put")
		case short && !isPut:
			err = assign(&shape.shortCall, leg, "short call")
		default:
			err = assign(&shape.longCall, leg, "long call")
		}
		if err != nil {
			return condorShape{}, err
		}
	}

	for _, leg := range []legPosition{shape.shortPut, shape.longPut, shape.shortCall, shape.longCall} {
		if leg.position.Symbol == "" {
			return condorShape{}, fmt.Errorf("incomplete condor: missing a leg role")
		}
	}

	if shape.longPut.symbol.Strike >= shape.shortPut.symbol.Strike {
		return condorShape{}, fmt.Errorf("put wing %.2f not below short put %.2f",
			shape.longPut.symbol.Strike, shape.shortPut.symbol.Strike)
	}
	if shape.longCall.symbol.Strike <= shape.shortCall.symbol.Strike {
		return condorShape{}, fmt.Errorf("call wing %.2f not above short call %.2f",
			shape.longCall.symbol.Strike, shape.shortCall.symbol.Strike)
	}

	qty := math.Abs(shape.shortPut.signed)
	for _, leg := range []legPosition{shape.longPut, shape.shortCall, shape.longCall} {
		if math.Abs(math.Abs(leg.signed)-qty) > 1e-9 {
			return condorShape{}, fmt.Errorf("mismatched leg quantities")
		}
	}
	if qty < 1 {
		return condorShape{}, fmt.Errorf("zero-quantity legs")
	}
	shape.quantity = int(qty)

	return shape, nil
}

// buildRecoveredTrade assembles a Trade for an adopted condor: strikes from
// the parsed symbols, streamer symbols from the chain, and credits from
// today's order history when a matching fill exists, else the configured
// estimates.
func (r *Reconciler) buildRecoveredTrade(ctx context.Context, shape condorShape, now time.Time) (*models.Trade, error) {
	underlying := r.config.Strategy.Underlying
	expiration := shape.shortPut.symbol.Expiration

	strikes := models.StrikeSet{
		Underlying: underlying,
		Expiration: expiration,
		ShortPut:   recoveredLeg(shape.shortPut, models.RoleShortPut),
		LongPut:    recoveredLeg(shape.longPut, models.RoleLongPutWing),
		ShortCall:  recoveredLeg(shape.shortCall, models.RoleShortCall),
		LongCall:   recoveredLeg(shape.longCall, models.RoleLongCallWing),
	}

	if streamers, err := r.lookupStreamerSymbols(ctx, underlying, expiration); err != nil {
		r.logger.Printf("reconciliation: chain lookup failed, legs will lack streamed quotes: %v", err)
	} else {
		for _, leg := range []*models.OptionLeg{&strikes.ShortPut, &strikes.LongPut, &strikes.ShortCall, &strikes.LongCall} {
			leg.StreamerSymbol = streamers[leg.Symbol]
		}
	}

	putCredit, callCredit, estimated := r.resolveCredits(ctx, strikes)
	strikes.PutCredit = putCredit
	strikes.CallCredit = callCredit

	trade := models.NewTrade(uuid.NewString(), strikes, shape.quantity, putCredit, callCredit)
	trade.Recovered = true
	trade.CreditEstimated = estimated
	return trade, nil
}

func recoveredLeg(leg legPosition, role models.LegRole) models.OptionLeg {
	return models.OptionLeg{
		Symbol: leg.position.Symbol,
		Strike: leg.symbol.Strike,
		Type:   leg.symbol.Type,
		Role:   role,
	}
}

func (r *Reconciler) lookupStreamerSymbols(ctx context.Context, underlying string, expiration time.Time) (map[string]string, error) {
	contracts, err := r.broker.GetOptionChain(ctx, underlying, expiration)
	if err != nil {
		return nil, err
	}
	streamers := make(map[string]string, len(contracts))
	for _, c := range contracts {
		streamers[c.Symbol] = c.StreamerSymbol
	}
	return streamers, nil
}

// resolveCredits recovers the entry credit from today's filled orders when
// one matches all four legs. Otherwise it falls back to the configured
// per-side estimates and flags the trade so thresholds are read with care.
func (r *Reconciler) resolveCredits(ctx context.Context, strikes models.StrikeSet) (put, call float64, estimated bool) {
	fallbackPut := r.config.Strategy.Risk.RecoveredPutCredit
	fallbackCall := r.config.Strategy.Risk.RecoveredCallCredit
	if fallbackPut <= 0 {
		fallbackPut = 1.0
	}
	if fallbackCall <= 0 {
		fallbackCall = 1.0
	}

	orders, err := r.broker.GetOrderHistory(ctx)
	if err != nil {
		r.logger.Printf("reconciliation: order history unavailable, using configured credits: %v", err)
		return fallbackPut, fallbackCall, true
	}

	want := map[string]bool{
		strikes.ShortPut.Symbol:  true,
		strikes.LongPut.Symbol:   true,
		strikes.ShortCall.Symbol: true,
		strikes.LongCall.Symbol:  true,
	}

	for _, order := range orders {
		if order.Status != broker.OrderStatusFilled || order.Price <= 0 || order.PriceEffect != "Credit" {
			continue
		}
		if len(order.Legs) != 4 {
			continue
		}
		matched := 0
		for _, leg := range order.Legs {
			if want[leg.Symbol] {
				matched++
			}
		}
		if matched != 4 {
			continue
		}

		// Split the filled net credit across sides in the same proportion
		// as the configured estimates.
		total := fallbackPut + fallbackCall
		put = order.Price * fallbackPut / total
		return put, order.Price - put, false
	}

	r.logger.Println("reconciliation: no matching entry fill found, using configured credits")
	return fallbackPut, fallbackCall, true
}
