// Package util provides common utility functions for price calculations.
package util

import "math"

// snapEpsilon absorbs float division noise so exact tick multiples
// survive floor/ceil unchanged.
const snapEpsilon = 1e-12

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick == 0 {
		return x
	}
	tick = math.Abs(tick)
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	if tick == 0 {
		return x
	}
	tick = math.Abs(tick)
	q := x / tick
	if r := math.Round(q); math.Abs(q-r) < snapEpsilon {
		q = r
	} else {
		q = math.Floor(q)
	}
	return q * tick
}
