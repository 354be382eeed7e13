package staking

import (
	"DexLedger/internal/dexerr"
	fpmath "DexLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// Persisted keys
const (
	KeyConfig         = "config"
	KeyStakerSet      = "staker_set"
	KeyLastAccrual    = "last_accrual_timestamp"
	prefixStakingInfo = "staking_info:"
	prefixClaimInfo   = "claim_info:"
)

func stakingInfoKey(staker string) string { return prefixStakingInfo + staker }
func claimInfoKey(staker string) string   { return prefixClaimInfo + staker }

var (
	ErrInvalidAmount = fmt.Errorf("staking: amount must be positive: %w", dexerr.ErrInvalidAmount)
	ErrNotAStaker    = fmt.Errorf("staking: %w", dexerr.ErrNotAStaker)
	ErrNotConfigured = fmt.Errorf("staking: config missing: %w", dexerr.ErrCorruptRecord)
	ErrInvalidConfig = fmt.Errorf("staking: invalid config: %w", dexerr.ErrInvalidInput)
)

// Formula selects how a pass converts elapsed time into rewards
type Formula string

const (
	// FormulaProRata pays daily_reward * elapsed_seconds / 86400 per pass,
	// split by stake weight.
	FormulaProRata Formula = "pro_rata"

	// FormulaLegacy reproduces the deployed contract bit for bit:
	// daily_reward / (86_400_000 * elapsed_seconds * 1000), split by a
	// whole-percent share.
	FormulaLegacy Formula = "legacy"
)

func (f Formula) Valid() bool {
	return f == FormulaProRata || f == FormulaLegacy
}

// Config is the staking contract configuration
type Config struct {
	DailyRewardAmount *uint256.Int
	RewardToken       string
	LPToken           string
	Formula           Formula
}

func (c *Config) Validate() error {
	if c.DailyRewardAmount == nil {
		return fmt.Errorf("%w: daily reward amount is required", ErrInvalidConfig)
	}
	if err := fpmath.RequireUint128(c.DailyRewardAmount); err != nil {
		return fmt.Errorf("%w: daily reward amount: %v", ErrInvalidConfig, err)
	}
	if c.RewardToken == "" || c.LPToken == "" {
		return fmt.Errorf("%w: reward and lp token are required", ErrInvalidConfig)
	}
	if !c.Formula.Valid() {
		return fmt.Errorf("%w: unknown formula %q", ErrInvalidConfig, c.Formula)
	}
	return nil
}

// Position is one staker's stake. It persists with a zero amount after unstake.
type Position struct {
	Staker      string
	Amount      *uint256.Int
	LastUpdated uint64
}

// ClaimRecord is a staker's accrued-but-unclaimed reward
type ClaimRecord struct {
	Staker      string
	Accrued     *uint256.Int
	LastClaimed uint64
}

// --- JSON wire formats ---
// Amounts are stored as base-10 strings.

type configJSON struct {
	DailyRewardAmount string  `json:"daily_reward_amount"`
	RewardToken       string  `json:"reward_token"`
	LPToken           string  `json:"lp_token"`
	Formula           Formula `json:"formula"`
}

type positionJSON struct {
	Staker      string `json:"staker"`
	Amount      string `json:"amount"`
	LastUpdated uint64 `json:"last_time_updated"`
}

type claimJSON struct {
	Staker      string `json:"staker"`
	Amount      string `json:"amount"`
	LastClaimed uint64 `json:"last_time_claimed"`
}

func decodeAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", field, s, dexerr.ErrCorruptRecord)
	}
	return v, nil
}
