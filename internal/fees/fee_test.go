package fees_test

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/fees"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func defaultSchedule() fees.Schedule {
	return fees.Schedule{
		LPFee:                fees.Fee{Num: 3, Denom: 1000},
		ProtocolFee:          fees.Fee{Num: 2, Denom: 1000},
		ProtocolFeeRecipient: "secret1dao",
	}
}

// ============================================================================
// Settle
// ============================================================================

func TestSettle_Basic(t *testing.T) {
	s, err := fees.Settle(u(1000), defaultSchedule())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), s.ProtocolFee.Uint64())
	assert.Equal(t, uint64(3), s.LPFee.Uint64())
	assert.Equal(t, uint64(995), s.Net.Uint64())
	assert.Equal(t, uint64(5), s.TotalFee().Uint64())
}

func TestSettle_FloorsEachLeg(t *testing.T) {
	s, err := fees.Settle(u(999), defaultSchedule())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s.ProtocolFee.Uint64()) // 1.998
	assert.Equal(t, uint64(2), s.LPFee.Uint64())       // 2.997
	assert.Equal(t, uint64(996), s.Net.Uint64())
}

func TestSettle_ZeroInput(t *testing.T) {
	_, err := fees.Settle(u(0), defaultSchedule())
	require.ErrorIs(t, err, dexerr.ErrInvalidAmount)
}

func TestSettle_ZeroDenominator(t *testing.T) {
	schedule := defaultSchedule()
	schedule.LPFee = fees.Fee{Num: 1, Denom: 0}
	_, err := fees.Settle(u(100), schedule)
	require.ErrorIs(t, err, fees.ErrInvalidFee)
}

func TestSettle_FeesExceedInput(t *testing.T) {
	schedule := fees.Schedule{
		LPFee:       fees.Fee{Num: 3, Denom: 4},
		ProtocolFee: fees.Fee{Num: 1, Denom: 2},
	}
	_, err := fees.Settle(u(100), schedule)
	require.ErrorIs(t, err, dexerr.ErrUnderflow)
}

func TestSettle_WideInput(t *testing.T) {
	// input * num exceeds 256 bits only through the intermediate product
	input := new(uint256.Int).Lsh(u(1), 254)
	s, err := fees.Settle(input, defaultSchedule())
	require.NoError(t, err)

	sum := new(uint256.Int).Add(s.ProtocolFee, s.LPFee)
	sum.Add(sum, s.Net)
	assert.Equal(t, input, sum)
}

func TestSettle_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		lpDen := uint16(rng.Intn(10_000) + 1)
		pDen := uint16(rng.Intn(10_000) + 1)
		schedule := fees.Schedule{
			LPFee:                fees.Fee{Num: uint8(rng.Intn(256)), Denom: lpDen},
			ProtocolFee:          fees.Fee{Num: uint8(rng.Intn(256)), Denom: pDen},
			ProtocolFeeRecipient: "dao",
		}
		if schedule.Validate() != nil {
			continue
		}

		input := u(rng.Uint64() | 1)
		s, err := fees.Settle(input, schedule)
		require.NoError(t, err)

		total := new(uint256.Int).Add(s.ProtocolFee, s.LPFee)
		total.Add(total, s.Net)
		require.Equal(t, input, total, "conservation for input %s", input.Dec())

		// floor(x*num/denom) computed independently
		wantLP := new(uint256.Int).Mul(input, u(uint64(schedule.LPFee.Num)))
		wantLP.Div(wantLP, u(uint64(schedule.LPFee.Denom)))
		require.Equal(t, wantLP, s.LPFee)
	}
}

// ============================================================================
// Schedule validation
// ============================================================================

func TestSchedule_Validate(t *testing.T) {
	require.NoError(t, defaultSchedule().Validate())

	s := defaultSchedule()
	s.ProtocolFee = fees.Fee{Num: 11, Denom: 10}
	assert.ErrorIs(t, s.Validate(), fees.ErrInvalidFee)

	s = defaultSchedule()
	s.LPFee = fees.Fee{Num: 1, Denom: 2}
	s.ProtocolFee = fees.Fee{Num: 2, Denom: 3}
	assert.ErrorIs(t, s.Validate(), fees.ErrInvalidFee)

	s = defaultSchedule()
	s.ProtocolFeeRecipient = ""
	assert.ErrorIs(t, s.Validate(), fees.ErrInvalidFee)

	s.ProtocolFee = fees.Fee{Num: 0, Denom: 1}
	assert.NoError(t, s.Validate())
}

// ============================================================================
// Quote
// ============================================================================

func TestQuote_ConstantProduct(t *testing.T) {
	info, err := fees.Quote(u(1000), u(1_000_000), u(2_000_000), defaultSchedule())
	require.NoError(t, err)

	assert.Equal(t, uint64(995), info.Settlement.Net.Uint64())
	assert.Equal(t, uint64(1988), info.Result.ReturnAmount.Uint64())
	assert.Equal(t, uint64(2), info.Result.SpreadAmount.Uint64())
	assert.Equal(t, uint64(2_000_000_000), info.SpotPrice.Uint64())
	assert.Equal(t, uint64(1_997_989_949), info.Price.Uint64())
}

func TestQuote_EmptyPool(t *testing.T) {
	_, err := fees.Quote(u(1000), u(0), u(10), defaultSchedule())
	require.ErrorIs(t, err, fees.ErrEmptyPool)
}

func TestQuote_ReturnNeverDrainsPool(t *testing.T) {
	info, err := fees.Quote(new(uint256.Int).Lsh(u(1), 120), u(10), u(10), defaultSchedule())
	require.NoError(t, err)
	assert.True(t, info.Result.ReturnAmount.Lt(u(10)))
}

func TestCheckSlippage(t *testing.T) {
	info, err := fees.Quote(u(1000), u(1_000_000), u(2_000_000), defaultSchedule())
	require.NoError(t, err)

	assert.NoError(t, fees.CheckSlippage(info, nil))
	assert.NoError(t, fees.CheckSlippage(info, u(1988)))
	assert.ErrorIs(t, fees.CheckSlippage(info, u(1989)), fees.ErrSlippage)
}
