package fees

import (
	"DexLedger/internal/dexerr"
	fpmath "DexLedger/internal/math"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrEmptyPool = fmt.Errorf("swap: pool has no liquidity: %w", dexerr.ErrInvalidAmount)
	ErrSlippage  = fmt.Errorf("swap: return below expected: %w", dexerr.ErrInvalidAmount)
)

// SwapResult is the trader-facing outcome of a constant-product swap
type SwapResult struct {
	ReturnAmount *uint256.Int
	SpreadAmount *uint256.Int // Shortfall against the pre-trade spot price
}

// SwapInfo carries every amount computed for one swap
type SwapInfo struct {
	Settlement Settlement
	Result     SwapResult
	SpotPrice  *uint256.Int // Decimal: reserveOut / reserveIn before the trade
	Price      *uint256.Int // Decimal: ReturnAmount / net offer
}

// Quote prices an offer against a constant-product pool. Fees are taken from
// the offer first; only the net amount moves along the curve.
func Quote(offer, reserveIn, reserveOut *uint256.Int, schedule Schedule) (*SwapInfo, error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrEmptyPool
	}

	settlement, err := Settle(offer, schedule)
	if err != nil {
		return nil, err
	}

	info := &SwapInfo{
		Settlement: settlement,
		Result: SwapResult{
			ReturnAmount: new(uint256.Int),
			SpreadAmount: new(uint256.Int),
		},
		Price: new(uint256.Int),
	}

	spot, err := fpmath.DecimalFromRatio(reserveOut, reserveIn)
	if err != nil {
		return nil, fmt.Errorf("spot price: %w", err)
	}
	info.SpotPrice = spot

	if settlement.Net.IsZero() {
		return info, nil
	}

	// return = reserveOut * net / (reserveIn + net)
	denominator, err := fpmath.CheckedAdd(reserveIn, settlement.Net)
	if err != nil {
		return nil, fmt.Errorf("swap denominator: %w", err)
	}
	returnAmount, err := fpmath.MulDiv(reserveOut, settlement.Net, denominator)
	if err != nil {
		return nil, fmt.Errorf("swap return: %w", err)
	}
	info.Result.ReturnAmount = returnAmount

	ideal, err := fpmath.ScaledMultiply(settlement.Net, spot)
	if err != nil {
		return nil, fmt.Errorf("spot value: %w", err)
	}
	spread, err := fpmath.ScaledSubtract(ideal, returnAmount)
	switch {
	case errors.Is(err, dexerr.ErrUnderflow):
		// truncated spot price can undershoot the curve by less than one unit
		spread = new(uint256.Int)
	case err != nil:
		return nil, err
	}
	info.Result.SpreadAmount = spread

	price, err := fpmath.DecimalFromRatio(returnAmount, settlement.Net)
	if err != nil {
		return nil, fmt.Errorf("execution price: %w", err)
	}
	info.Price = price

	return info, nil
}

// CheckSlippage fails if the quoted return is below the trader's minimum.
// A nil expectation disables the check.
func CheckSlippage(info *SwapInfo, expectedReturn *uint256.Int) error {
	if expectedReturn == nil {
		return nil
	}
	if info.Result.ReturnAmount.Lt(expectedReturn) {
		return fmt.Errorf("%w: got %s, expected %s",
			ErrSlippage, info.Result.ReturnAmount.Dec(), expectedReturn.Dec())
	}
	return nil
}
