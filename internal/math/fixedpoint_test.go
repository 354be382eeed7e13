package math_test

import (
	"DexLedger/internal/dexerr"
	fpmath "DexLedger/internal/math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func mustDecimal(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := fpmath.ParseDecimal(s)
	require.NoError(t, err)
	return v
}

// === Scaled primitives ===

func TestScaledSubtract(t *testing.T) {
	got, err := fpmath.ScaledSubtract(mustDecimal(t, "2.5"), mustDecimal(t, "0.75"))
	require.NoError(t, err)
	assert.Equal(t, "1.75", fpmath.FormatDecimal(got))

	got, err = fpmath.ScaledSubtract(mustDecimal(t, "1"), mustDecimal(t, "1"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestScaledSubtract_Underflow(t *testing.T) {
	_, err := fpmath.ScaledSubtract(mustDecimal(t, "0.1"), mustDecimal(t, "0.2"))
	require.ErrorIs(t, err, dexerr.ErrUnderflow)
}

func TestScaledMultiply(t *testing.T) {
	got, err := fpmath.ScaledMultiply(mustDecimal(t, "1.5"), mustDecimal(t, "2.25"))
	require.NoError(t, err)
	assert.Equal(t, "3.375", fpmath.FormatDecimal(got))

	// integer amount times a Decimal price yields an integer amount, truncated
	got, err = fpmath.ScaledMultiply(u(7), mustDecimal(t, "0.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Uint64())
}

func TestScaledMultiply_WideIntermediate(t *testing.T) {
	// a*b overflows 256 bits but the rescaled result fits
	a := new(uint256.Int).Lsh(u(1), 230)
	b := mustDecimal(t, "1000")
	got, err := fpmath.ScaledMultiply(a, b)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Mul(a, u(1000)), got)
}

func TestScaledMultiply_Overflow(t *testing.T) {
	a := new(uint256.Int).Lsh(u(1), 250)
	b := new(uint256.Int).Lsh(u(1), 250)
	_, err := fpmath.ScaledMultiply(a, b)
	require.ErrorIs(t, err, dexerr.ErrOverflow)
}

// === MulDiv ===

func TestMulDiv_Truncates(t *testing.T) {
	cases := []struct {
		name    string
		a, b, d uint64
		want    uint64
	}{
		{"exact", 8, 1, 2, 4},
		{"half drops", 7, 1, 2, 3},
		{"above half drops", 5, 1, 3, 1},
		{"below one", 1, 1, 3, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(u(tc.a), u(tc.b), u(tc.d))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Uint64())
		})
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.MulDiv(max, u(2), u(1))
	require.ErrorIs(t, err, dexerr.ErrOverflow)
}

func TestMulDiv_ZeroDivisor(t *testing.T) {
	_, err := fpmath.MulDiv(u(1), u(1), u(0))
	require.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestMulDiv_Deterministic(t *testing.T) {
	first, err := fpmath.MulDiv(u(123_456_789), u(987_654_321), u(1_000_003))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		again, err := fpmath.MulDiv(u(123_456_789), u(987_654_321), u(1_000_003))
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

// === Parsing and formatting ===

func TestParseDecimal(t *testing.T) {
	v := mustDecimal(t, "0.000000001")
	assert.Equal(t, uint64(1), v.Uint64())

	v = mustDecimal(t, "12")
	assert.Equal(t, uint64(12_000_000_000), v.Uint64())

	_, err := fpmath.ParseDecimal("0.0000000001")
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)

	_, err = fpmath.ParseDecimal("-1")
	require.ErrorIs(t, err, dexerr.ErrUnderflow)

	_, err = fpmath.ParseDecimal("abc")
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)
}

func TestParseAmount(t *testing.T) {
	v, err := fpmath.ParseAmount("340282366920938463463374607431768211455")
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxUint128, v)

	_, err = fpmath.ParseAmount("340282366920938463463374607431768211456")
	require.ErrorIs(t, err, dexerr.ErrOverflow)

	_, err = fpmath.ParseAmount("1.5")
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)
}

// === Distribution ===

func TestComputeDistribution_ExactSplit(t *testing.T) {
	dist, err := fpmath.ComputeDistribution(u(1000), []fpmath.Weight{
		{Holder: "a", Weight: u(30)},
		{Holder: "b", Weight: u(70)},
	})
	require.NoError(t, err)

	require.Len(t, dist.Allocations, 2)
	assert.Equal(t, uint64(300), dist.Allocations[0].Amount.Uint64())
	assert.Equal(t, uint64(700), dist.Allocations[1].Amount.Uint64())
	assert.True(t, dist.Residual.IsZero())
}

func TestComputeDistribution_ResidualBounded(t *testing.T) {
	weights := []fpmath.Weight{
		{Holder: "a", Weight: u(1)},
		{Holder: "b", Weight: u(1)},
		{Holder: "c", Weight: u(1)},
	}
	dist, err := fpmath.ComputeDistribution(u(100), weights)
	require.NoError(t, err)

	sum := new(uint256.Int)
	for _, a := range dist.Allocations {
		assert.Equal(t, uint64(33), a.Amount.Uint64())
		sum.Add(sum, a.Amount)
	}
	assert.Equal(t, uint64(1), dist.Residual.Uint64())
	assert.Equal(t, uint64(100), new(uint256.Int).Add(sum, dist.Residual).Uint64())
	assert.True(t, dist.Residual.Lt(u(uint64(len(weights)))))
}

func TestComputeDistribution_ZeroWeights(t *testing.T) {
	dist, err := fpmath.ComputeDistribution(u(50), []fpmath.Weight{{Holder: "a", Weight: u(0)}})
	require.NoError(t, err)
	assert.True(t, dist.Allocations[0].Amount.IsZero())
	assert.Equal(t, uint64(50), dist.Residual.Uint64())
}
