// Package strategy implements strike selection, position sizing, and the
// per-side exit monitor for the condor lifecycle.
package strategy

import "errors"

// Failure taxonomy for one session's entry and exit decisions. Callers match
// with errors.Is; wrapping sites attach symbol, side, and computed values.
var (
	// ErrNoEligibleStrike means a side had no strike inside the delta band.
	// Entry is skipped for the session; there is no later opportunity on a
	// same-day expiration.
	ErrNoEligibleStrike = errors.New("no eligible strike in delta band")

	// ErrNoEligibleWing means no wing satisfied the cost ceiling and the
	// minimum credit fraction.
	ErrNoEligibleWing = errors.New("no eligible wing")

	// ErrInsufficientCapital means sizing produced zero contracts.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrExecutionFailed means the entry order was rejected, cancelled, or
	// left partially filled.
	ErrExecutionFailed = errors.New("entry execution failed")

	// ErrCloseFailed means a side's close order could not be completed.
	ErrCloseFailed = errors.New("close order failed")

	// ErrReconciliationAmbiguous means broker positions could not be grouped
	// into a recognizable condor shape.
	ErrReconciliationAmbiguous = errors.New("ambiguous broker positions")
)
