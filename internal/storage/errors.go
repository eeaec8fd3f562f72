package storage

import "errors"

// ErrTradeNotFound is returned when no trade with the given id exists.
var ErrTradeNotFound = errors.New("trade not found")

// ErrDuplicateTrade is returned when adding a trade whose id or leg symbols
// already match an active trade.
var ErrDuplicateTrade = errors.New("duplicate trade")
