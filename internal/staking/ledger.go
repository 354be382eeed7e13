package staking

import (
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/store"
	"fmt"

	"github.com/holiman/uint256"
)

// Ledger owns staking positions, claim records, the staker set and the
// accrual checkpoint. It holds no state of its own; every call reads and
// writes through the store handle it is given.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// === Config ===

func (l *Ledger) Config(r store.Reader) (*Config, error) {
	var j configJSON
	found, err := store.LoadJSON(r, KeyConfig, &j)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotConfigured
	}
	daily, err := decodeAmount("daily_reward_amount", j.DailyRewardAmount)
	if err != nil {
		return nil, err
	}
	formula := j.Formula
	if formula == "" {
		formula = FormulaLegacy
	}
	return &Config{
		DailyRewardAmount: daily,
		RewardToken:       j.RewardToken,
		LPToken:           j.LPToken,
		Formula:           formula,
	}, nil
}

func (l *Ledger) SaveConfig(w store.Writer, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return store.SaveJSON(w, KeyConfig, configJSON{
		DailyRewardAmount: cfg.DailyRewardAmount.Dec(),
		RewardToken:       cfg.RewardToken,
		LPToken:           cfg.LPToken,
		Formula:           cfg.Formula,
	})
}

// === Staker set ===

// Stakers returns the staker set in insertion order
func (l *Ledger) Stakers(r store.Reader) ([]string, error) {
	var stakers []string
	if _, err := store.LoadJSON(r, KeyStakerSet, &stakers); err != nil {
		return nil, err
	}
	return stakers, nil
}

func (l *Ledger) IsStaker(r store.Reader, staker string) (bool, error) {
	stakers, err := l.Stakers(r)
	if err != nil {
		return false, err
	}
	return indexOf(stakers, staker) >= 0, nil
}

func indexOf(stakers []string, staker string) int {
	for i, s := range stakers {
		if s == staker {
			return i
		}
	}
	return -1
}

// === Positions and claims ===

func (l *Ledger) Position(r store.Reader, staker string) (*Position, bool, error) {
	var j positionJSON
	found, err := store.LoadJSON(r, stakingInfoKey(staker), &j)
	if err != nil || !found {
		return nil, false, err
	}
	amount, err := decodeAmount("stake amount", j.Amount)
	if err != nil {
		return nil, false, err
	}
	return &Position{Staker: staker, Amount: amount, LastUpdated: j.LastUpdated}, true, nil
}

func (l *Ledger) savePosition(w store.Writer, p *Position) error {
	return store.SaveJSON(w, stakingInfoKey(p.Staker), positionJSON{
		Staker:      p.Staker,
		Amount:      p.Amount.Dec(),
		LastUpdated: p.LastUpdated,
	})
}

// Claim returns the staker's claim record, or a zero record if none exists
func (l *Ledger) Claim(r store.Reader, staker string) (*ClaimRecord, error) {
	var j claimJSON
	found, err := store.LoadJSON(r, claimInfoKey(staker), &j)
	if err != nil {
		return nil, err
	}
	if !found {
		return &ClaimRecord{Staker: staker, Accrued: new(uint256.Int)}, nil
	}
	accrued, err := decodeAmount("claim amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &ClaimRecord{Staker: staker, Accrued: accrued, LastClaimed: j.LastClaimed}, nil
}

func (l *Ledger) SaveClaim(w store.Writer, c *ClaimRecord) error {
	return store.SaveJSON(w, claimInfoKey(c.Staker), claimJSON{
		Staker:      c.Staker,
		Amount:      c.Accrued.Dec(),
		LastClaimed: c.LastClaimed,
	})
}

// === Checkpoint ===

// LastAccrual returns the global accrual checkpoint, zero before the first pass
func (l *Ledger) LastAccrual(r store.Reader) (uint64, error) {
	var ts uint64
	if _, err := store.LoadJSON(r, KeyLastAccrual, &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

func (l *Ledger) SetLastAccrual(w store.Writer, ts uint64) error {
	return store.SaveJSON(w, KeyLastAccrual, ts)
}

// === Aggregates ===

// TotalStaked sums the positions of every member of the staker set
func (l *Ledger) TotalStaked(r store.Reader) (*uint256.Int, error) {
	stakers, err := l.Stakers(r)
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, s := range stakers {
		pos, err := l.mustPosition(r, s)
		if err != nil {
			return nil, err
		}
		if total, err = fpmath.CheckedAdd(total, pos.Amount); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// StakeShare returns stake * precision / total_staked. The caller must not
// invoke it while total stake is zero.
func (l *Ledger) StakeShare(r store.Reader, staker string, precision *uint256.Int) (*uint256.Int, error) {
	pos, err := l.mustPosition(r, staker)
	if err != nil {
		return nil, err
	}
	total, err := l.TotalStaked(r)
	if err != nil {
		return nil, err
	}
	return stakeShare(pos.Amount, total, precision)
}

// stakeShare is stake * precision / total, truncated
func stakeShare(stake, total, precision *uint256.Int) (*uint256.Int, error) {
	return fpmath.MulDiv(stake, precision, total)
}

// mustPosition loads the position of a staker-set member; a member without
// a position is a corrupt ledger.
func (l *Ledger) mustPosition(r store.Reader, staker string) (*Position, error) {
	pos, found, err := l.Position(r, staker)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("staker %s has no position: %w", staker, ErrNotConfigured)
	}
	return pos, nil
}

// === Mutations ===

// RecordStake adds amount to the staker's position, enrolling the staker on
// first stake, and resets the claim record to zero as of now.
func (l *Ledger) RecordStake(rw store.ReadWriter, staker string, amount *uint256.Int, now uint64) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	stakers, err := l.Stakers(rw)
	if err != nil {
		return err
	}

	pos := &Position{Staker: staker, Amount: new(uint256.Int).Set(amount), LastUpdated: now}
	if indexOf(stakers, staker) >= 0 {
		existing, err := l.mustPosition(rw, staker)
		if err != nil {
			return err
		}
		sum, err := fpmath.CheckedAdd(existing.Amount, amount)
		if err != nil {
			return err
		}
		pos.Amount = sum
	} else {
		stakers = append(stakers, staker)
		if err := store.SaveJSON(rw, KeyStakerSet, stakers); err != nil {
			return err
		}
	}

	if err := fpmath.RequireUint128(pos.Amount); err != nil {
		return fmt.Errorf("stake of %s: %w", staker, err)
	}
	if err := l.savePosition(rw, pos); err != nil {
		return err
	}

	return l.SaveClaim(rw, &ClaimRecord{Staker: staker, Accrued: new(uint256.Int), LastClaimed: now})
}

// RecordUnstake removes the staker from the set, zeroes the position and
// the claim record, and returns the principal and unclaimed reward to pay out.
func (l *Ledger) RecordUnstake(rw store.ReadWriter, staker string, now uint64) (principal, reward *uint256.Int, err error) {
	stakers, err := l.Stakers(rw)
	if err != nil {
		return nil, nil, err
	}
	idx := indexOf(stakers, staker)
	if idx < 0 {
		return nil, nil, ErrNotAStaker
	}

	pos, err := l.mustPosition(rw, staker)
	if err != nil {
		return nil, nil, err
	}
	claim, err := l.Claim(rw, staker)
	if err != nil {
		return nil, nil, err
	}

	remaining := append(stakers[:idx:idx], stakers[idx+1:]...)
	if err := store.SaveJSON(rw, KeyStakerSet, remaining); err != nil {
		return nil, nil, err
	}

	principal = pos.Amount
	reward = claim.Accrued

	if err := l.savePosition(rw, &Position{Staker: staker, Amount: new(uint256.Int), LastUpdated: now}); err != nil {
		return nil, nil, err
	}
	if err := l.SaveClaim(rw, &ClaimRecord{Staker: staker, Accrued: new(uint256.Int), LastClaimed: 0}); err != nil {
		return nil, nil, err
	}

	return principal, reward, nil
}
