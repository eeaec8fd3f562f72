// Package models provides data structures and state management for condor trades.
package models

import "fmt"

// SideState represents the lifecycle state of one side of a condor.
type SideState string

const (
	// SideOpen means the side is live and being monitored.
	SideOpen SideState = "open"
	// SideClosingPending means a sustained breach was confirmed and a close
	// order is being worked.
	SideClosingPending SideState = "closing_pending"
	// SideClosed means the side's close order filled.
	SideClosed SideState = "closed"
	// SideExpired means the session ended with the side untested; its legs
	// expire with no order sent.
	SideExpired SideState = "expired"
)

// SideTransition defines a valid side state transition.
type SideTransition struct {
	From        SideState
	To          SideState
	Condition   string
	Description string
}

// ValidSideTransitions enumerates every legal side transition.
var ValidSideTransitions = []SideTransition{
	{SideOpen, SideClosingPending, "breach_confirmed", "Cost-to-close breach held for the full confirmation window"},
	{SideClosingPending, SideClosed, "close_filled", "Close order filled"},
	{SideOpen, SideExpired, "session_end", "Session ended with no confirmed breach"},
	{SideClosingPending, SideExpired, "session_end", "Session ended while close was still being worked"},
}

// SideMachine tracks one side's state and enforces the transition table.
// The two sides of a trade each get their own machine and never share state.
type SideMachine struct {
	currentState SideState
}

// NewSideMachine creates a machine starting in the open state.
func NewSideMachine() *SideMachine {
	return NewSideMachineFromState(SideOpen)
}

// NewSideMachineFromState creates a machine resuming from a persisted state.
func NewSideMachineFromState(state SideState) *SideMachine {
	return &SideMachine{currentState: state}
}

// GetCurrentState returns the current state.
func (sm *SideMachine) GetCurrentState() SideState {
	return sm.currentState
}

// IsTerminal reports whether the side has reached closed or expired.
func (sm *SideMachine) IsTerminal() bool {
	return sm.currentState == SideClosed || sm.currentState == SideExpired
}

// IsValidTransition checks whether the transition is defined in the table.
func (sm *SideMachine) IsValidTransition(to SideState, condition string) error {
	for _, t := range ValidSideTransitions {
		if t.From == sm.currentState && t.To == to && t.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid side transition from %s to %s with condition %q",
		sm.currentState, to, condition)
}

// Transition moves to a new state after validating against the table.
func (sm *SideMachine) Transition(to SideState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.currentState = to
	return nil
}

// GetStateDescription returns a human-readable description of the current state.
func (sm *SideMachine) GetStateDescription() string {
	switch sm.currentState {
	case SideOpen:
		return "Side open, monitoring cost-to-close against the exit threshold"
	case SideClosingPending:
		return "Breach confirmed, working close order"
	case SideClosed:
		return "Side closed by buy-to-close order"
	case SideExpired:
		return "Side expired at session end with no order"
	default:
		return "Unknown state"
	}
}
