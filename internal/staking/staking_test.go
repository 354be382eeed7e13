package staking_test

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/staking"
	"DexLedger/internal/store"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newEngine(t *testing.T, daily uint64, formula staking.Formula) (*staking.Engine, *store.Tx) {
	t.Helper()
	tx := store.Begin(store.NewMemoryBackend())
	ledger := staking.NewLedger()
	require.NoError(t, ledger.SaveConfig(tx, &staking.Config{
		DailyRewardAmount: uint256.NewInt(daily),
		RewardToken:       "reward-token",
		LPToken:           "lp-token",
		Formula:           formula,
	}))
	return staking.NewEngine(ledger), tx
}

func accrued(t *testing.T, e *staking.Engine, r store.Reader, staker string) uint64 {
	t.Helper()
	c, err := e.Ledger().Claim(r, staker)
	require.NoError(t, err)
	return c.Accrued.Uint64()
}

const t0 = 1_700_000_000

// ===========================================================================
// Pro-rata accrual
// ===========================================================================

func TestAccrue_SingleStakerFullDay(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)

	_, err := e.Stake(tx, "alice", uint256.NewInt(500), t0)
	require.NoError(t, err)

	pass, err := e.AccrueAll(tx, t0+staking.SecondsPerDay)
	require.NoError(t, err)
	assert.False(t, pass.Skipped)
	assert.Equal(t, uint64(864_000_000), pass.Total.Uint64())
	assert.Equal(t, uint64(864_000_000), accrued(t, e, tx, "alice"))
	assert.True(t, pass.Residual.IsZero())
}

func TestAccrue_ProportionalSplit(t *testing.T) {
	e, tx := newEngine(t, 1000, staking.FormulaProRata)

	_, err := e.Stake(tx, "a", uint256.NewInt(30), t0)
	require.NoError(t, err)
	_, err = e.Stake(tx, "b", uint256.NewInt(70), t0)
	require.NoError(t, err)

	pass, err := e.AccrueAll(tx, t0+staking.SecondsPerDay)
	require.NoError(t, err)

	assert.Equal(t, uint64(300), accrued(t, e, tx, "a"))
	assert.Equal(t, uint64(700), accrued(t, e, tx, "b"))
	assert.Equal(t, uint64(1000), pass.Distributed().Uint64())
}

func TestAccrue_TruncationNeverOverpays(t *testing.T) {
	e, tx := newEngine(t, 1000, staking.FormulaProRata)
	for _, s := range []string{"a", "b", "c"} {
		_, err := e.Stake(tx, s, uint256.NewInt(1), t0)
		require.NoError(t, err)
	}

	pass, err := e.AccrueAll(tx, t0+staking.SecondsPerDay)
	require.NoError(t, err)

	assert.Equal(t, uint64(999), pass.Distributed().Uint64())
	assert.Equal(t, uint64(1), pass.Residual.Uint64())
	for _, inc := range pass.Increments {
		assert.Equal(t, uint64(333), inc.Amount.Uint64())
	}
}

func TestAccrue_SameInstantIsNoop(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)
	_, err := e.Stake(tx, "alice", uint256.NewInt(10), t0)
	require.NoError(t, err)

	_, err = e.AccrueAll(tx, t0+100)
	require.NoError(t, err)
	before := accrued(t, e, tx, "alice")

	pass, err := e.AccrueAll(tx, t0+100)
	require.NoError(t, err)
	assert.True(t, pass.Skipped)
	assert.Equal(t, before, accrued(t, e, tx, "alice"))

	// a stale clock does not move the checkpoint back
	pass, err = e.AccrueAll(tx, t0+50)
	require.NoError(t, err)
	assert.True(t, pass.Skipped)
	last, err := e.Ledger().LastAccrual(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(t0+100), last)
}

func TestAccrue_NoStakersAdvancesCheckpoint(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)

	pass, err := e.AccrueAll(tx, t0)
	require.NoError(t, err)
	assert.Empty(t, pass.Increments)

	last, err := e.Ledger().LastAccrual(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(t0), last)
}

// ===========================================================================
// Legacy formula
// ===========================================================================

func TestAccrue_LegacyFormula(t *testing.T) {
	// daily / (86_400_000 * elapsed * 1000)
	e, tx := newEngine(t, 864_000_000_000_000, staking.FormulaLegacy)

	_, err := e.Stake(tx, "a", uint256.NewInt(30), t0)
	require.NoError(t, err)
	_, err = e.Stake(tx, "b", uint256.NewInt(70), t0)
	require.NoError(t, err)

	pass, err := e.AccrueAll(tx, t0+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), pass.Total.Uint64())
	assert.Equal(t, uint64(3_000), accrued(t, e, tx, "a"))
	assert.Equal(t, uint64(7_000), accrued(t, e, tx, "b"))

	// a longer window divides further
	pass, err = e.AccrueAll(tx, t0+3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), pass.Total.Uint64())
	assert.Equal(t, uint64(4_500), accrued(t, e, tx, "a"))
	assert.Equal(t, uint64(10_500), accrued(t, e, tx, "b"))
}

func TestAccrue_LegacyWholePercentShare(t *testing.T) {
	e, tx := newEngine(t, 864_000_000_000_000, staking.FormulaLegacy)
	for _, s := range []string{"a", "b", "c"} {
		_, err := e.Stake(tx, s, uint256.NewInt(1), t0)
		require.NoError(t, err)
	}

	pass, err := e.AccrueAll(tx, t0+1)
	require.NoError(t, err)
	// 33% each of 10_000
	for _, inc := range pass.Increments {
		assert.Equal(t, uint64(3_300), inc.Amount.Uint64())
	}
	assert.Equal(t, uint64(100), pass.Residual.Uint64())
}

func TestAccrue_LegacyPaysStakeShare(t *testing.T) {
	e, tx := newEngine(t, 864_000_000_000_000, staking.FormulaLegacy)
	stakes := map[string]uint64{"a": 1, "b": 2, "c": 4}
	for _, s := range []string{"a", "b", "c"} {
		_, err := e.Stake(tx, s, uint256.NewInt(stakes[s]), t0)
		require.NoError(t, err)
	}

	// shares are read before the pass; accrual does not move stake
	shares := map[string]uint64{}
	for s := range stakes {
		share, err := e.Ledger().StakeShare(tx, s, staking.LegacyPrecision)
		require.NoError(t, err)
		shares[s] = share.Uint64()
	}
	assert.Equal(t, map[string]uint64{"a": 14, "b": 28, "c": 57}, shares)

	pass, err := e.AccrueAll(tx, t0+1)
	require.NoError(t, err)
	require.Len(t, pass.Increments, 3)
	for _, inc := range pass.Increments {
		want := pass.Total.Uint64() * shares[inc.Staker] / 100
		assert.Equal(t, want, inc.Amount.Uint64(), inc.Staker)
	}
}

// ===========================================================================
// Stake / unstake / claim
// ===========================================================================

func TestStakeUnstakeRoundTrip(t *testing.T) {
	for _, f := range []staking.Formula{staking.FormulaProRata, staking.FormulaLegacy} {
		t.Run(string(f), func(t *testing.T) {
			e, tx := newEngine(t, 864_000_000, f)

			_, err := e.Stake(tx, "alice", uint256.NewInt(12_345), t0)
			require.NoError(t, err)

			principal, reward, _, err := e.Unstake(tx, "alice", t0)
			require.NoError(t, err)
			assert.Equal(t, uint64(12_345), principal.Uint64())
			assert.True(t, reward.IsZero())
		})
	}
}

func TestUnstake_KeepsZeroPositionAndLeavesSet(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)
	_, err := e.Stake(tx, "alice", uint256.NewInt(100), t0)
	require.NoError(t, err)
	_, err = e.Stake(tx, "bob", uint256.NewInt(100), t0)
	require.NoError(t, err)

	principal, reward, _, err := e.Unstake(tx, "alice", t0+staking.SecondsPerDay)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), principal.Uint64())
	assert.Equal(t, uint64(432_000_000), reward.Uint64())

	stakers, err := e.Ledger().Stakers(tx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, stakers)

	pos, found, err := e.Ledger().Position(tx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, pos.Amount.IsZero())
	assert.Equal(t, uint64(t0+staking.SecondsPerDay), pos.LastUpdated)

	_, _, _, err = e.Unstake(tx, "alice", t0+staking.SecondsPerDay)
	require.ErrorIs(t, err, dexerr.ErrNotAStaker)
}

func TestStake_AddsToPositionAndForfeitsAccrued(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)
	_, err := e.Stake(tx, "alice", uint256.NewInt(100), t0)
	require.NoError(t, err)

	_, err = e.Stake(tx, "alice", uint256.NewInt(50), t0+staking.SecondsPerDay)
	require.NoError(t, err)

	pos, _, err := e.Ledger().Position(tx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), pos.Amount.Uint64())
	assert.Equal(t, uint64(0), accrued(t, e, tx, "alice"))

	stakers, err := e.Ledger().Stakers(tx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, stakers)
}

func TestStake_ZeroAmountRejected(t *testing.T) {
	e, tx := newEngine(t, 1, staking.FormulaProRata)
	_, err := e.Stake(tx, "alice", uint256.NewInt(0), t0)
	require.ErrorIs(t, err, dexerr.ErrInvalidAmount)
}

func TestClaim(t *testing.T) {
	e, tx := newEngine(t, 864_000_000, staking.FormulaProRata)

	_, _, err := e.Claim(tx, "nobody", t0)
	require.ErrorIs(t, err, dexerr.ErrNotAStaker)

	_, err = e.Stake(tx, "alice", uint256.NewInt(1), t0)
	require.NoError(t, err)

	estimate, err := e.EstimateClaim(tx, "alice", t0+staking.SecondsPerDay/2)
	require.NoError(t, err)
	assert.Equal(t, uint64(432_000_000), estimate.Uint64())
	// estimating writes nothing
	assert.Equal(t, uint64(0), accrued(t, e, tx, "alice"))

	reward, _, err := e.Claim(tx, "alice", t0+staking.SecondsPerDay/2)
	require.NoError(t, err)
	assert.Equal(t, estimate.Uint64(), reward.Uint64())
	assert.Equal(t, uint64(0), accrued(t, e, tx, "alice"))

	// claiming again in the same instant pays nothing
	reward, _, err = e.Claim(tx, "alice", t0+staking.SecondsPerDay/2)
	require.NoError(t, err)
	assert.True(t, reward.IsZero())
}

func TestStakeShare(t *testing.T) {
	e, tx := newEngine(t, 1, staking.FormulaProRata)
	_, err := e.Stake(tx, "a", uint256.NewInt(1), t0)
	require.NoError(t, err)
	_, err = e.Stake(tx, "b", uint256.NewInt(2), t0)
	require.NoError(t, err)

	share, err := e.Ledger().StakeShare(tx, "a", staking.LegacyPrecision)
	require.NoError(t, err)
	assert.Equal(t, uint64(33), share.Uint64())

	total, err := e.Ledger().TotalStaked(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total.Uint64())
}

func TestConfig_Validate(t *testing.T) {
	ledger := staking.NewLedger()
	tx := store.Begin(store.NewMemoryBackend())

	err := ledger.SaveConfig(tx, &staking.Config{
		DailyRewardAmount: uint256.NewInt(1),
		RewardToken:       "r",
		LPToken:           "lp",
		Formula:           "weekly",
	})
	require.ErrorIs(t, err, dexerr.ErrInvalidInput)

	_, err = ledger.Config(tx)
	require.ErrorIs(t, err, dexerr.ErrCorruptRecord)
}
