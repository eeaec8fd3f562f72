package models

import (
	"fmt"
	"time"
)

// OptionType distinguishes puts from calls.
type OptionType string

const (
	OptionTypePut  OptionType = "put"
	OptionTypeCall OptionType = "call"
)

// LegRole identifies a leg's function inside the condor.
type LegRole string

const (
	RoleShortPut     LegRole = "short_put"
	RoleLongPutWing  LegRole = "long_put_wing"
	RoleShortCall    LegRole = "short_call"
	RoleLongCallWing LegRole = "long_call_wing"
)

// Side names one monitored half of a condor.
type Side string

const (
	SidePut  Side = "put"
	SideCall Side = "call"
)

// ContractMultiplier converts option prices to dollars per contract.
const ContractMultiplier = 100.0

// OptionLeg is one leg of a condor. Immutable once a trade is built.
// Delta is the absolute delta observed at selection time; wings selected by
// price rather than delta leave it nil.
type OptionLeg struct {
	Symbol         string     `json:"symbol"`
	StreamerSymbol string     `json:"streamer_symbol,omitempty"`
	Strike         float64    `json:"strike"`
	Type           OptionType `json:"type"`
	Role           LegRole    `json:"role"`
	Delta          *float64   `json:"delta,omitempty"`
}

// StrikeSet is the four legs of one iron condor plus the credit estimates the
// selector produced for it.
type StrikeSet struct {
	Underlying   string    `json:"underlying"`
	Expiration   time.Time `json:"expiration"`
	Spot         float64   `json:"spot"`
	ShortPut     OptionLeg `json:"short_put"`
	LongPut      OptionLeg `json:"long_put"`
	ShortCall    OptionLeg `json:"short_call"`
	LongCall     OptionLeg `json:"long_call"`
	PutCredit    float64   `json:"put_credit"`
	CallCredit   float64   `json:"call_credit"`
	TargetCredit float64   `json:"target_credit"`
}

// Legs returns the four legs in submission order.
func (s *StrikeSet) Legs() [4]OptionLeg {
	return [4]OptionLeg{s.ShortPut, s.LongPut, s.ShortCall, s.LongCall}
}

// NetCredit returns the combined per-side credit estimate.
func (s *StrikeSet) NetCredit() float64 {
	return s.PutCredit + s.CallCredit
}

// PutWidth returns the put-side wing width in strike points.
func (s *StrikeSet) PutWidth() float64 {
	return s.ShortPut.Strike - s.LongPut.Strike
}

// CallWidth returns the call-side wing width in strike points.
func (s *StrikeSet) CallWidth() float64 {
	return s.LongCall.Strike - s.ShortCall.Strike
}

// PerContractRequirement estimates the buying power one condor reserves:
// the wider wing minus the net credit, in dollars.
func (s *StrikeSet) PerContractRequirement() float64 {
	width := s.PutWidth()
	if s.CallWidth() > width {
		width = s.CallWidth()
	}
	return (width - s.NetCredit()) * ContractMultiplier
}

// ShortLeg returns the short leg for a side.
func (s *StrikeSet) ShortLeg(side Side) OptionLeg {
	if side == SidePut {
		return s.ShortPut
	}
	return s.ShortCall
}

// WingLeg returns the protective long leg for a side.
func (s *StrikeSet) WingLeg(side Side) OptionLeg {
	if side == SidePut {
		return s.LongPut
	}
	return s.LongCall
}

// Validate checks the condor shape: strikes strictly ordered around the spot
// and all legs on the same expiration.
func (s *StrikeSet) Validate() error {
	if s.Underlying == "" {
		return fmt.Errorf("strike set missing underlying symbol")
	}
	if s.Expiration.IsZero() {
		return fmt.Errorf("strike set missing expiration")
	}
	if s.LongPut.Strike >= s.ShortPut.Strike {
		return fmt.Errorf("put wing %.2f must be below short put %.2f",
			s.LongPut.Strike, s.ShortPut.Strike)
	}
	if s.ShortCall.Strike >= s.LongCall.Strike {
		return fmt.Errorf("call wing %.2f must be above short call %.2f",
			s.LongCall.Strike, s.ShortCall.Strike)
	}
	if s.Spot > 0 {
		if s.ShortPut.Strike >= s.Spot {
			return fmt.Errorf("short put %.2f must be below spot %.2f", s.ShortPut.Strike, s.Spot)
		}
		if s.ShortCall.Strike <= s.Spot {
			return fmt.Errorf("short call %.2f must be above spot %.2f", s.ShortCall.Strike, s.Spot)
		}
	}
	if s.ShortPut.Type != OptionTypePut || s.LongPut.Type != OptionTypePut {
		return fmt.Errorf("put side legs must both be puts")
	}
	if s.ShortCall.Type != OptionTypeCall || s.LongCall.Type != OptionTypeCall {
		return fmt.Errorf("call side legs must both be calls")
	}
	if s.NetCredit() <= 0 {
		return fmt.Errorf("net credit %.2f must be positive", s.NetCredit())
	}
	return nil
}

// CapReason identifies what bound a sizing result.
type CapReason string

const (
	CappedByBudget  CapReason = "budget"
	CappedByHardCap CapReason = "hard_cap"
	CappedByNone    CapReason = "none"
)

// SizingResult is the outcome of position sizing. Transient, not persisted.
type SizingResult struct {
	Quantity        int
	BuyingPowerUsed float64
	CappedBy        CapReason
}
