package math

import (
	"github.com/holiman/uint256"
)

// Weight is one holder's claim on a pro-rata distribution
type Weight struct {
	Holder string
	Weight *uint256.Int
}

// Allocation is the amount a holder receives from a distribution
type Allocation struct {
	Holder string
	Amount *uint256.Int
}

// Distribution is the result of splitting a total across weighted holders
type Distribution struct {
	Total       *uint256.Int
	Allocations []Allocation
	Residual    *uint256.Int // Total minus the sum of allocations, lost to truncation
}

// ComputeDistribution splits total across weights, giving each holder
// floor(total * weight / sum(weights)). Allocations keep the input order.
// The residual is strictly less than the number of holders with non-zero weight.
// A zero weight sum allocates nothing and leaves the whole total as residual.
func ComputeDistribution(total *uint256.Int, weights []Weight) (*Distribution, error) {
	sum := new(uint256.Int)
	for _, w := range weights {
		next, err := CheckedAdd(sum, w.Weight)
		if err != nil {
			return nil, err
		}
		sum = next
	}

	dist := &Distribution{
		Total:       new(uint256.Int).Set(total),
		Allocations: make([]Allocation, 0, len(weights)),
	}

	allocated := new(uint256.Int)
	for _, w := range weights {
		amount := new(uint256.Int)
		if !sum.IsZero() {
			share, err := MulDiv(total, w.Weight, sum)
			if err != nil {
				return nil, err
			}
			amount = share
		}
		allocated.Add(allocated, amount)
		dist.Allocations = append(dist.Allocations, Allocation{Holder: w.Holder, Amount: amount})
	}

	// allocated <= total because every share is floored
	dist.Residual = new(uint256.Int).Sub(total, allocated)
	return dist, nil
}
