package math

import (
	"DexLedger/internal/dexerr"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalPlaces is the number of fractional digits carried by a Decimal value.
// A Decimal is a *uint256.Int holding value * 10^DecimalPlaces.
const DecimalPlaces = 9

var (
	// DecimalFractional is the fixed scale of every Decimal (10^9)
	DecimalFractional = uint256.NewInt(1_000_000_000)

	// MaxUint128 is the upper bound of any token amount
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
)

var (
	ErrOverflow     = fmt.Errorf("fixed-point: %w", dexerr.ErrOverflow)
	ErrUnderflow    = fmt.Errorf("fixed-point: %w", dexerr.ErrUnderflow)
	ErrDivideByZero = fmt.Errorf("fixed-point: division by zero: %w", dexerr.ErrInvalidInput)
)

// MulDiv computes floor(a * b / d) with a 512-bit intermediate product.
// Every settlement path truncates.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	q, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return q, nil
}

// ScaledSubtract returns a - b for two Decimals. Fails with ErrUnderflow if a < b.
func ScaledSubtract(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// ScaledMultiply returns a * b rescaled back to one factor of DecimalFractional.
// Either operand may also be a plain integer amount, in which case the result
// is an integer amount.
func ScaledMultiply(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, DecimalFractional)
}

// DecimalFromRatio returns num/den as a Decimal, truncated.
func DecimalFromRatio(num, den *uint256.Int) (*uint256.Int, error) {
	return MulDiv(num, DecimalFractional, den)
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// CheckedMul returns a * b or ErrOverflow.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// RequireUint128 fails with ErrOverflow if v does not fit a token amount.
func RequireUint128(v *uint256.Int) error {
	if v.Gt(MaxUint128) {
		return ErrOverflow
	}
	return nil
}

// === String boundary ===

// ParseAmount parses a base-10 integer token amount.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, dexerr.ErrInvalidInput)
	}
	if err := RequireUint128(v); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// ParseDecimal parses a human-readable decimal ("1.25") into a Decimal.
func ParseDecimal(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, dexerr.ErrInvalidInput)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse decimal %q: %w", s, ErrUnderflow)
	}

	scaled := d.Shift(DecimalPlaces)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("decimal %q has more than %d fractional digits: %w",
			s, DecimalPlaces, dexerr.ErrInvalidInput)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse decimal %q: %w", s, ErrOverflow)
	}
	return v, nil
}

// FormatDecimal renders a Decimal exactly, without trailing zeros.
func FormatDecimal(v *uint256.Int) string {
	return decimal.NewFromBigInt(v.ToBig(), -DecimalPlaces).String()
}
