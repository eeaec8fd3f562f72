package strategy

import (
	"errors"
	"testing"

	"github.com/craig10e/tastytrade/internal/models"
)

func TestSizeCondor(t *testing.T) {
	tests := []struct {
		name        string
		budget      float64
		balance     float64
		perContract float64
		hardCap     int
		wantQty     int
		wantCapped  models.CapReason
	}{
		{
			name:   "hard cap binds when budget allows more",
			budget: 100000, balance: 100000, perContract: 2500, hardCap: 6,
			wantQty: 6, wantCapped: models.CappedByHardCap,
		},
		{
			name:   "budget binds below the cap",
			budget: 9000, balance: 100000, perContract: 2500, hardCap: 6,
			wantQty: 3, wantCapped: models.CappedByBudget,
		},
		{
			name:   "live balance binds below the configured budget",
			budget: 100000, balance: 7000, perContract: 2500, hardCap: 6,
			wantQty: 2, wantCapped: models.CappedByBudget,
		},
		{
			name:   "exact fit is uncapped",
			budget: 15000, balance: 15000, perContract: 2500, hardCap: 6,
			wantQty: 6, wantCapped: models.CappedByNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SizeCondor(tt.budget, tt.balance, tt.perContract, tt.hardCap)
			if err != nil {
				t.Fatalf("SizeCondor failed: %v", err)
			}
			if result.Quantity != tt.wantQty {
				t.Errorf("quantity = %d, want %d", result.Quantity, tt.wantQty)
			}
			if result.CappedBy != tt.wantCapped {
				t.Errorf("capped by = %s, want %s", result.CappedBy, tt.wantCapped)
			}
			if want := float64(tt.wantQty) * tt.perContract; result.BuyingPowerUsed != want {
				t.Errorf("buying power used = %v, want %v", result.BuyingPowerUsed, want)
			}
		})
	}
}

func TestSizeCondorInsufficientCapital(t *testing.T) {
	result, err := SizeCondor(2000, 100000, 2500, 6)
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Fatalf("err = %v, want ErrInsufficientCapital", err)
	}
	if result.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", result.Quantity)
	}

	if _, err := SizeCondor(100000, -500, 2500, 6); !errors.Is(err, ErrInsufficientCapital) {
		t.Errorf("negative balance should yield ErrInsufficientCapital, got %v", err)
	}
}

func TestSizeCondorInvalidInputs(t *testing.T) {
	if _, err := SizeCondor(100000, 100000, 0, 6); err == nil {
		t.Error("zero per-contract requirement must be rejected")
	}
	if _, err := SizeCondor(100000, 100000, -100, 6); err == nil {
		t.Error("negative per-contract requirement must be rejected")
	}
	if _, err := SizeCondor(100000, 100000, 2500, 0); err == nil {
		t.Error("zero hard cap must be rejected")
	}
}

func TestSizeCondorMonotonicInBalance(t *testing.T) {
	prev := 0
	for balance := 0.0; balance <= 50000; balance += 500 {
		result, err := SizeCondor(1e9, balance, 2500, 12)
		if err != nil && !errors.Is(err, ErrInsufficientCapital) {
			t.Fatalf("balance %v: %v", balance, err)
		}
		if result.Quantity < prev {
			t.Fatalf("quantity decreased from %d to %d at balance %v", prev, result.Quantity, balance)
		}
		if result.Quantity > 12 {
			t.Fatalf("quantity %d exceeds hard cap at balance %v", result.Quantity, balance)
		}
		prev = result.Quantity
	}
}
