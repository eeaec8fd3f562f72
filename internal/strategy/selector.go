package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/craig10e/tastytrade/internal/models"
)

// ChainEntry is one contract of the chain snapshot handed to the selector,
// with its latest book and absolute delta merged in.
type ChainEntry struct {
	Symbol         string
	StreamerSymbol string
	Strike         float64
	Type           models.OptionType
	Bid            float64
	Ask            float64
	Delta          float64 // absolute magnitude
}

// Mid returns the bid/ask midpoint.
func (e ChainEntry) Mid() float64 {
	return (e.Bid + e.Ask) / 2
}

// ChainSnapshot is the option chain at selection time.
type ChainSnapshot struct {
	Underlying string
	Expiration time.Time
	Spot       float64
	Puts       []ChainEntry
	Calls      []ChainEntry
}

// SelectorConfig carries the strike-selection parameters.
type SelectorConfig struct {
	DeltaMin          float64
	DeltaMax          float64
	PutTargetCredit   float64
	CallTargetCredit  float64
	PutWingMaxCost    float64
	CallWingMaxCost   float64
	MinCreditFraction float64
}

// SelectStrikes maps a chain snapshot to a 4-leg strike set. Selection is
// all-or-nothing: a failure on the put side returns before the call side is
// evaluated, and either side failing aborts the whole entry.
//
// Short strikes come from the delta band: the put with the highest delta in
// band and the call with the lowest. Wings walk further out-of-the-money and
// must respect the per-side cost ceiling while yielding at least
// MinCreditFraction of the side's target credit.
func SelectStrikes(chain ChainSnapshot, cfg SelectorConfig) (models.StrikeSet, error) {
	if chain.Spot <= 0 {
		return models.StrikeSet{}, fmt.Errorf("chain snapshot for %s has no spot price", chain.Underlying)
	}

	puts := sortedByStrike(chain.Puts)
	calls := sortedByStrike(chain.Calls)

	shortPut, err := pickShortPut(puts, chain.Spot, cfg)
	if err != nil {
		return models.StrikeSet{}, err
	}
	putWing, putCredit, err := pickWing(puts, shortPut, models.OptionTypePut, cfg)
	if err != nil {
		return models.StrikeSet{}, err
	}

	shortCall, err := pickShortCall(calls, chain.Spot, cfg)
	if err != nil {
		return models.StrikeSet{}, err
	}
	callWing, callCredit, err := pickWing(calls, shortCall, models.OptionTypeCall, cfg)
	if err != nil {
		return models.StrikeSet{}, err
	}

	set := models.StrikeSet{
		Underlying:   chain.Underlying,
		Expiration:   chain.Expiration,
		Spot:         chain.Spot,
		ShortPut:     toLeg(shortPut, models.RoleShortPut),
		LongPut:      toLeg(putWing, models.RoleLongPutWing),
		ShortCall:    toLeg(shortCall, models.RoleShortCall),
		LongCall:     toLeg(callWing, models.RoleLongCallWing),
		PutCredit:    putCredit,
		CallCredit:   callCredit,
		TargetCredit: cfg.PutTargetCredit + cfg.CallTargetCredit,
	}
	if err := set.Validate(); err != nil {
		return models.StrikeSet{}, fmt.Errorf("selected strikes inconsistent: %w", err)
	}
	return set, nil
}

func sortedByStrike(entries []ChainEntry) []ChainEntry {
	out := make([]ChainEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// pickShortPut selects the in-band put closest to the money: the highest
// delta within [DeltaMin, DeltaMax]. Delta ties prefer the strike nearer
// the spot.
func pickShortPut(puts []ChainEntry, spot float64, cfg SelectorConfig) (ChainEntry, error) {
	var best ChainEntry
	found := false
	for _, entry := range puts {
		if entry.Strike >= spot {
			continue
		}
		if entry.Delta < cfg.DeltaMin || entry.Delta > cfg.DeltaMax {
			continue
		}
		if !found || betterShort(entry, best, spot, true) {
			best = entry
			found = true
		}
	}
	if !found {
		return ChainEntry{}, fmt.Errorf(
			"put side: no strike below spot %.2f with delta in [%.2f, %.2f]: %w",
			spot, cfg.DeltaMin, cfg.DeltaMax, ErrNoEligibleStrike)
	}
	return best, nil
}

// pickShortCall selects the in-band call closest to the money: the lowest
// delta within the band.
func pickShortCall(calls []ChainEntry, spot float64, cfg SelectorConfig) (ChainEntry, error) {
	var best ChainEntry
	found := false
	for _, entry := range calls {
		if entry.Strike <= spot {
			continue
		}
		if entry.Delta < cfg.DeltaMin || entry.Delta > cfg.DeltaMax {
			continue
		}
		if !found || betterShort(entry, best, spot, false) {
			best = entry
			found = true
		}
	}
	if !found {
		return ChainEntry{}, fmt.Errorf(
			"call side: no strike above spot %.2f with delta in [%.2f, %.2f]: %w",
			spot, cfg.DeltaMin, cfg.DeltaMax, ErrNoEligibleStrike)
	}
	return best, nil
}

// betterShort ranks candidate short strikes: puts maximize delta, calls
// minimize it, and delta ties go to the strike nearer the spot.
func betterShort(candidate, incumbent ChainEntry, spot float64, wantMax bool) bool {
	if candidate.Delta != incumbent.Delta {
		if wantMax {
			return candidate.Delta > incumbent.Delta
		}
		return candidate.Delta < incumbent.Delta
	}
	return math.Abs(candidate.Strike-spot) < math.Abs(incumbent.Strike-spot)
}

// pickWing walks strikes further out-of-the-money from the short leg and
// selects the wing whose net credit lands closest to the side's target
// without going under it, subject to the cost ceiling and the minimum credit
// fraction. When every eligible wing's credit is below target, the highest
// credit wins.
func pickWing(entries []ChainEntry, short ChainEntry, typ models.OptionType, cfg SelectorConfig) (ChainEntry, float64, error) {
	target := cfg.PutTargetCredit
	maxCost := cfg.PutWingMaxCost
	side := "put"
	if typ == models.OptionTypeCall {
		target = cfg.CallTargetCredit
		maxCost = cfg.CallWingMaxCost
		side = "call"
	}
	minCredit := cfg.MinCreditFraction * target
	shortMid := short.Mid()

	var best ChainEntry
	var bestCredit float64
	found := false
	for _, entry := range entries {
		if typ == models.OptionTypePut && entry.Strike >= short.Strike {
			continue
		}
		if typ == models.OptionTypeCall && entry.Strike <= short.Strike {
			continue
		}
		cost := entry.Mid()
		if cost > maxCost {
			continue
		}
		credit := shortMid - cost
		if credit < minCredit {
			continue
		}
		if !found || betterWing(credit, bestCredit, target) {
			best = entry
			bestCredit = credit
			found = true
		}
	}
	if !found {
		return ChainEntry{}, 0, fmt.Errorf(
			"%s side: no wing beyond %.2f with cost <= %.2f and credit >= %.2f: %w",
			side, short.Strike, maxCost, minCredit, ErrNoEligibleWing)
	}

	return best, bestCredit, nil
}

// betterWing prefers credits at or above target that sit closest to it, and
// falls back to the highest credit when everything is under target.
func betterWing(candidate, incumbent, target float64) bool {
	candAbove := candidate >= target
	incAbove := incumbent >= target
	switch {
	case candAbove && incAbove:
		return candidate < incumbent
	case candAbove != incAbove:
		return candAbove
	default:
		return candidate > incumbent
	}
}

func toLeg(entry ChainEntry, role models.LegRole) models.OptionLeg {
	leg := models.OptionLeg{
		Symbol:         entry.Symbol,
		StreamerSymbol: entry.StreamerSymbol,
		Strike:         entry.Strike,
		Type:           entry.Type,
		Role:           role,
	}
	if entry.Delta > 0 {
		delta := entry.Delta
		leg.Delta = &delta
	}
	return leg
}
