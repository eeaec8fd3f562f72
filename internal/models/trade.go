package models

import (
	"fmt"
	"time"
)

// SideStatus is the monitored state of one half of a condor trade. Mutated
// only by the monitor on the strategy loop's goroutine.
type SideStatus struct {
	Machine       *SideMachine `json:"-"`     // Runtime only, excluded from JSON
	State         SideState    `json:"state"` // Canonical persisted state
	Side          Side         `json:"side"`
	EntryCredit   float64      `json:"entry_credit"`
	FirstBreach   *time.Time   `json:"first_breach,omitempty"`
	CloseOrderID  string       `json:"close_order_id,omitempty"`
	CloseFailures int          `json:"close_failures"`
	Escalated     bool         `json:"escalated,omitempty"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
	CloseReason   string       `json:"close_reason,omitempty"`
}

// ensureMachine initializes the side machine from persisted state.
func (s *SideStatus) ensureMachine() *SideMachine {
	if s.Machine == nil {
		s.Machine = NewSideMachineFromState(s.State)
	}
	return s.Machine
}

// TransitionState moves the side to a new state.
func (s *SideStatus) TransitionState(to SideState, condition string) error {
	if err := s.ensureMachine().Transition(to, condition); err != nil {
		return fmt.Errorf("%s side state transition failed: %w", s.Side, err)
	}

	s.State = to

	if to == SideClosed && s.ClosedAt == nil {
		now := time.Now().UTC()
		s.ClosedAt = &now
	}
	if to == SideClosed || to == SideExpired {
		s.FirstBreach = nil
	}
	return nil
}

// IsActive reports whether the side still needs monitoring.
func (s *SideStatus) IsActive() bool {
	return s.State == SideOpen || s.State == SideClosingPending
}

// StateDescription returns the human-readable meaning of the side's state.
// Reads the persisted state directly so concurrent observers (the dashboard)
// never touch the lazily built machine.
func (s *SideStatus) StateDescription() string {
	return NewSideMachineFromState(s.State).GetStateDescription()
}

// Trade is one iron condor instance: a fresh entry or a recovered position.
// Removed from the active registry once both sides are closed or expired.
type Trade struct {
	ID              string    `json:"id"`
	Underlying      string    `json:"underlying"`
	Expiration      time.Time `json:"expiration"`
	Strikes         StrikeSet `json:"strikes"`
	Quantity        int       `json:"quantity"`
	EntryTime       time.Time `json:"entry_time"`
	EntryOrderID    string    `json:"entry_order_id,omitempty"`
	CreditEstimated bool      `json:"credit_estimated"`
	Recovered       bool      `json:"recovered,omitempty"`
	PutSide         SideStatus `json:"put_side"`
	CallSide        SideStatus `json:"call_side"`
}

// NewTrade creates a trade with both sides open. putCredit and callCredit are
// the per-side entry credits actually received (or estimated, in which case
// the caller sets CreditEstimated).
func NewTrade(id string, strikes StrikeSet, quantity int, putCredit, callCredit float64) *Trade {
	return &Trade{
		ID:         id,
		Underlying: strikes.Underlying,
		Expiration: strikes.Expiration,
		Strikes:    strikes,
		Quantity:   quantity,
		EntryTime:  time.Now().UTC(),
		PutSide: SideStatus{
			Side:        SidePut,
			State:       SideOpen,
			EntryCredit: putCredit,
			Machine:     NewSideMachine(),
		},
		CallSide: SideStatus{
			Side:        SideCall,
			State:       SideOpen,
			EntryCredit: callCredit,
			Machine:     NewSideMachine(),
		},
	}
}

// SideStatusFor returns a pointer to the status for the requested side.
func (t *Trade) SideStatusFor(side Side) *SideStatus {
	if side == SidePut {
		return &t.PutSide
	}
	return &t.CallSide
}

// IsActive reports whether either side still needs monitoring.
func (t *Trade) IsActive() bool {
	return t.PutSide.IsActive() || t.CallSide.IsActive()
}

// LegSymbols returns the four leg symbols for identity matching.
func (t *Trade) LegSymbols() [4]string {
	return [4]string{
		t.Strikes.ShortPut.Symbol,
		t.Strikes.LongPut.Symbol,
		t.Strikes.ShortCall.Symbol,
		t.Strikes.LongCall.Symbol,
	}
}

// Validate checks trade-level invariants against both sides.
func (t *Trade) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trade missing id")
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade %s: quantity must be positive (current: %d)", t.ID, t.Quantity)
	}
	if err := t.Strikes.Validate(); err != nil {
		return fmt.Errorf("trade %s: %w", t.ID, err)
	}
	for _, s := range []*SideStatus{&t.PutSide, &t.CallSide} {
		if s.EntryCredit < 0 {
			return fmt.Errorf("trade %s %s side: entry credit cannot be negative (current: %.2f)",
				t.ID, s.Side, s.EntryCredit)
		}
		if s.State == SideOpen && s.ClosedAt != nil {
			return fmt.Errorf("trade %s %s side: ClosedAt must be nil while open", t.ID, s.Side)
		}
		if s.State == SideClosed && s.ClosedAt == nil {
			return fmt.Errorf("trade %s %s side: ClosedAt must be set once closed", t.ID, s.Side)
		}
	}
	return nil
}
