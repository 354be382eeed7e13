package amm_test

import (
	"DexLedger/internal/amm"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/fees"
	"DexLedger/internal/store"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func schedule() fees.Schedule {
	return fees.Schedule{
		LPFee:                fees.Fee{Num: 3, Denom: 1000},
		ProtocolFee:          fees.Fee{Num: 2, Denom: 1000},
		ProtocolFeeRecipient: "secret1dao",
	}
}

func seededPool(t *testing.T) *store.Tx {
	t.Helper()
	tx := store.Begin(store.NewMemoryBackend())
	_, err := amm.CreatePool(tx, "pool1", amm.NewTokenPair("sscrt", "sshd"), schedule())
	require.NoError(t, err)
	_, err = amm.AddLiquidity(tx, "pool1", u(1_000_000), u(2_000_000))
	require.NoError(t, err)
	return tx
}

// ===========================================================================
// Token pairs
// ===========================================================================

func TestTokenPair(t *testing.T) {
	ab := amm.NewTokenPair("b", "a")
	ba := amm.NewTokenPair("a", "b")

	assert.True(t, ab.Equal(ba))
	assert.Equal(t, ab.Key(), ba.Key())
	assert.Equal(t, "a", ab.Canonical().Token0)

	other, err := ab.Other("b")
	require.NoError(t, err)
	assert.Equal(t, "a", other)
	_, err = ab.Other("c")
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)

	require.ErrorIs(t, amm.NewTokenPair("a", "a").Validate(), dexerr.ErrInvalidInput)
	require.ErrorIs(t, amm.NewTokenPair("", "a").Validate(), dexerr.ErrInvalidInput)
}

// ===========================================================================
// Pools
// ===========================================================================

func TestCreatePool_Duplicate(t *testing.T) {
	tx := seededPool(t)
	_, err := amm.CreatePool(tx, "pool1", amm.NewTokenPair("x", "y"), schedule())
	require.ErrorIs(t, err, dexerr.ErrConflict)
}

func TestLoadPool_Missing(t *testing.T) {
	tx := store.Begin(store.NewMemoryBackend())
	_, err := amm.LoadPool(tx, "nope")
	require.ErrorIs(t, err, dexerr.ErrNotFound)
}

func TestSwap_UpdatesReservesAndHistory(t *testing.T) {
	tx := seededPool(t)

	out, err := amm.Swap(tx, "pool1", "sscrt", u(1000), nil, 1_700_000_000)
	require.NoError(t, err)

	assert.Equal(t, "sshd", out.AskToken)
	assert.Equal(t, uint64(1988), out.Info.Result.ReturnAmount.Uint64())
	assert.Equal(t, amm.DirectionSell, out.Trade.Direction)

	pool, err := amm.LoadPool(tx, "pool1")
	require.NoError(t, err)
	// protocol fee (2) leaves the pool, the lp fee (3) stays
	assert.Equal(t, uint64(1_000_998), pool.Reserve0.Uint64())
	assert.Equal(t, uint64(1_998_012), pool.Reserve1.Uint64())
	assert.Equal(t, uint64(1), pool.TradeCount)

	trades, err := amm.Trades(tx, "pool1", 0, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(1_997_989_949), trades[0].Price.Uint64())
	assert.Equal(t, uint64(5), trades[0].TotalFee.Uint64())
	assert.Equal(t, uint64(2), trades[0].ProtocolFee.Uint64())
	assert.Equal(t, uint64(1_700_000_000), trades[0].Timestamp)
}

func TestSwap_ReverseDirection(t *testing.T) {
	tx := seededPool(t)

	out, err := amm.Swap(tx, "pool1", "sshd", u(2000), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "sscrt", out.AskToken)
	assert.Equal(t, amm.DirectionBuy, out.Trade.Direction)

	pool, err := amm.LoadPool(tx, "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000+2000-4), pool.Reserve1.Uint64())
	assert.Equal(t, 1_000_000-out.Info.Result.ReturnAmount.Uint64(), pool.Reserve0.Uint64())
}

func TestSwap_SlippageLeavesPoolUntouched(t *testing.T) {
	tx := seededPool(t)

	_, err := amm.Swap(tx, "pool1", "sscrt", u(1000), u(1989), 1)
	require.ErrorIs(t, err, fees.ErrSlippage)

	pool, err := amm.LoadPool(tx, "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), pool.Reserve0.Uint64())
	assert.Equal(t, uint64(0), pool.TradeCount)
}

func TestSwap_Rejections(t *testing.T) {
	tx := seededPool(t)

	_, err := amm.Swap(tx, "pool1", "sscrt", u(0), nil, 1)
	require.ErrorIs(t, err, dexerr.ErrInvalidAmount)

	_, err = amm.Swap(tx, "pool1", "other", u(10), nil, 1)
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)

	_, err = amm.CreatePool(tx, "empty", amm.NewTokenPair("a", "b"), schedule())
	require.NoError(t, err)
	_, err = amm.Swap(tx, "empty", "a", u(10), nil, 1)
	require.ErrorIs(t, err, fees.ErrEmptyPool)
}

func TestEstimate_MatchesSwap(t *testing.T) {
	tx := seededPool(t)

	est, err := amm.Estimate(tx, "pool1", "sscrt", u(50_000))
	require.NoError(t, err)
	out, err := amm.Swap(tx, "pool1", "sscrt", u(50_000), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, est.Result.ReturnAmount, out.Info.Result.ReturnAmount)
}

func TestTrades_Pagination(t *testing.T) {
	tx := seededPool(t)
	for i := uint64(1); i <= 5; i++ {
		_, err := amm.Swap(tx, "pool1", "sscrt", u(100*i), nil, i)
		require.NoError(t, err)
	}

	n, err := amm.TradeCount(tx, "pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	page, err := amm.Trades(tx, "pool1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Timestamp)
	assert.Equal(t, uint64(4), page[1].Timestamp)

	page, err = amm.Trades(tx, "pool1", 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
}
