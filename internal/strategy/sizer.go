package strategy

import (
	"fmt"
	"math"

	"github.com/craig10e/tastytrade/internal/models"
)

// SizeCondor computes the contract count for one condor entry.
//
// Capital to deploy is the smaller of the configured budget and the live
// balance; the count is that capital divided by the per-contract buying-power
// requirement, floored, then clamped to [0, hardCap]. A zero result returns
// ErrInsufficientCapital and entry is skipped for the session.
func SizeCondor(budget, liveBalance, perContract float64, hardCap int) (models.SizingResult, error) {
	if perContract <= 0 {
		return models.SizingResult{}, fmt.Errorf(
			"per-contract requirement must be positive, got %.2f", perContract)
	}
	if hardCap <= 0 {
		return models.SizingResult{}, fmt.Errorf("hard cap must be positive, got %d", hardCap)
	}

	deployable := math.Min(budget, liveBalance)
	if deployable < 0 {
		deployable = 0
	}

	quantity := int(math.Floor(deployable / perContract))
	cappedBy := models.CappedByNone
	switch {
	case quantity > hardCap:
		quantity = hardCap
		cappedBy = models.CappedByHardCap
	case quantity < hardCap:
		cappedBy = models.CappedByBudget
	}

	result := models.SizingResult{
		Quantity:        quantity,
		BuyingPowerUsed: float64(quantity) * perContract,
		CappedBy:        cappedBy,
	}
	if quantity == 0 {
		return result, fmt.Errorf(
			"deployable %.2f below per-contract requirement %.2f: %w",
			deployable, perContract, ErrInsufficientCapital)
	}
	return result, nil
}
