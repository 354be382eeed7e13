package staking

import (
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/store"
	"fmt"

	"github.com/holiman/uint256"
)

const SecondsPerDay = 86_400

var (
	// LegacyPrecision is the whole-percent share scale of FormulaLegacy
	LegacyPrecision = uint256.NewInt(100)

	legacyMsPerDay = uint256.NewInt(86_400_000)
	msPerSecond    = uint256.NewInt(1_000)
	secondsPerDay  = uint256.NewInt(SecondsPerDay)
)

// Increment is one staker's share of an accrual pass
type Increment struct {
	Staker string
	Amount *uint256.Int
}

// Pass describes one accrual pass. A skipped pass changed nothing.
type Pass struct {
	From       uint64
	To         uint64
	Formula    Formula
	Total      *uint256.Int // reward made available by the pass
	Increments []Increment
	Residual   *uint256.Int // Total minus the sum of increments
	Skipped    bool
}

// Distributed is the sum of all increments
func (p *Pass) Distributed() *uint256.Int {
	sum := new(uint256.Int)
	for _, inc := range p.Increments {
		sum.Add(sum, inc.Amount)
	}
	return sum
}

// Engine advances the global accrual checkpoint and distributes rewards.
// Every ledger mutation it exposes runs a full pass first.
type Engine struct {
	ledger *Ledger
}

func NewEngine(ledger *Ledger) *Engine {
	return &Engine{ledger: ledger}
}

func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// AccrueAll distributes rewards earned since the checkpoint to every staker
// and moves the checkpoint to now. now <= checkpoint is a no-op.
func (e *Engine) AccrueAll(rw store.ReadWriter, now uint64) (*Pass, error) {
	cfg, err := e.ledger.Config(rw)
	if err != nil {
		return nil, err
	}
	last, err := e.ledger.LastAccrual(rw)
	if err != nil {
		return nil, err
	}

	pass, err := e.computePass(rw, cfg, last, now)
	if err != nil {
		return nil, err
	}
	if pass.Skipped {
		return pass, nil
	}

	for _, inc := range pass.Increments {
		claim, err := e.ledger.Claim(rw, inc.Staker)
		if err != nil {
			return nil, err
		}
		accrued, err := fpmath.CheckedAdd(claim.Accrued, inc.Amount)
		if err != nil {
			return nil, err
		}
		if err := fpmath.RequireUint128(accrued); err != nil {
			return nil, fmt.Errorf("accrued reward of %s: %w", inc.Staker, err)
		}
		claim.Accrued = accrued
		claim.LastClaimed = now
		if err := e.ledger.SaveClaim(rw, claim); err != nil {
			return nil, err
		}
	}

	if err := e.ledger.SetLastAccrual(rw, now); err != nil {
		return nil, err
	}
	return pass, nil
}

// computePass only reads; AccrueAll and EstimateClaim share it
func (e *Engine) computePass(r store.Reader, cfg *Config, last, now uint64) (*Pass, error) {
	pass := &Pass{
		From:     last,
		To:       now,
		Formula:  cfg.Formula,
		Total:    new(uint256.Int),
		Residual: new(uint256.Int),
	}
	if now <= last {
		pass.Skipped = true
		return pass, nil
	}

	stakers, err := e.ledger.Stakers(r)
	if err != nil {
		return nil, err
	}
	weights := make([]fpmath.Weight, 0, len(stakers))
	totalStake := new(uint256.Int)
	for _, s := range stakers {
		pos, err := e.ledger.mustPosition(r, s)
		if err != nil {
			return nil, err
		}
		weights = append(weights, fpmath.Weight{Holder: s, Weight: pos.Amount})
		if totalStake, err = fpmath.CheckedAdd(totalStake, pos.Amount); err != nil {
			return nil, err
		}
	}

	elapsed := uint256.NewInt(now - last)
	if cfg.Formula == FormulaLegacy {
		err = legacyPass(pass, cfg.DailyRewardAmount, elapsed, weights, totalStake)
	} else {
		err = proRataPass(pass, cfg.DailyRewardAmount, elapsed, weights)
	}
	if err != nil {
		return nil, err
	}
	return pass, nil
}

func proRataPass(pass *Pass, daily, elapsed *uint256.Int, weights []fpmath.Weight) error {
	total, err := fpmath.MulDiv(daily, elapsed, secondsPerDay)
	if err != nil {
		return err
	}
	pass.Total = total
	if len(weights) == 0 {
		pass.Residual = new(uint256.Int).Set(total)
		return nil
	}

	dist, err := fpmath.ComputeDistribution(total, weights)
	if err != nil {
		return err
	}
	for _, a := range dist.Allocations {
		pass.Increments = append(pass.Increments, Increment{Staker: a.Holder, Amount: a.Amount})
	}
	pass.Residual = dist.Residual
	return nil
}

func legacyPass(pass *Pass, daily, elapsed *uint256.Int, weights []fpmath.Weight, totalStake *uint256.Int) error {
	offset, err := fpmath.CheckedMul(legacyMsPerDay, elapsed)
	if err != nil {
		return err
	}
	if offset, err = fpmath.CheckedMul(offset, msPerSecond); err != nil {
		return err
	}

	total := new(uint256.Int).Div(daily, offset)
	pass.Total = total

	distributed := new(uint256.Int)
	for _, w := range weights {
		amount := new(uint256.Int)
		if !totalStake.IsZero() && !total.IsZero() {
			pct, err := stakeShare(w.Weight, totalStake, LegacyPrecision)
			if err != nil {
				return err
			}
			if amount, err = fpmath.MulDiv(total, pct, LegacyPrecision); err != nil {
				return err
			}
		}
		distributed.Add(distributed, amount)
		pass.Increments = append(pass.Increments, Increment{Staker: w.Holder, Amount: amount})
	}

	// whole-percent shares sum to at most 100
	pass.Residual = new(uint256.Int).Sub(total, distributed)
	return nil
}

// === Ledger operations wrapped by a pass ===

// Stake accrues, then adds amount to the staker's position. Rewards accrued
// before this stake and not yet claimed are forfeited by the claim reset.
func (e *Engine) Stake(rw store.ReadWriter, staker string, amount *uint256.Int, now uint64) (*Pass, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	pass, err := e.AccrueAll(rw, now)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.RecordStake(rw, staker, amount, now); err != nil {
		return nil, err
	}
	return pass, nil
}

// Unstake accrues, then removes the staker and returns the full principal
// and the full accrued reward.
func (e *Engine) Unstake(rw store.ReadWriter, staker string, now uint64) (principal, reward *uint256.Int, pass *Pass, err error) {
	ok, err := e.ledger.IsStaker(rw, staker)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, ErrNotAStaker
	}
	if pass, err = e.AccrueAll(rw, now); err != nil {
		return nil, nil, nil, err
	}
	principal, reward, err = e.ledger.RecordUnstake(rw, staker, now)
	if err != nil {
		return nil, nil, nil, err
	}
	return principal, reward, pass, nil
}

// Claim accrues, then pays out and resets the staker's accrued reward
func (e *Engine) Claim(rw store.ReadWriter, staker string, now uint64) (*uint256.Int, *Pass, error) {
	ok, err := e.ledger.IsStaker(rw, staker)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotAStaker
	}
	pass, err := e.AccrueAll(rw, now)
	if err != nil {
		return nil, nil, err
	}
	claim, err := e.ledger.Claim(rw, staker)
	if err != nil {
		return nil, nil, err
	}
	reward := claim.Accrued
	if err := e.ledger.SaveClaim(rw, &ClaimRecord{Staker: staker, Accrued: new(uint256.Int), LastClaimed: now}); err != nil {
		return nil, nil, err
	}
	return reward, pass, nil
}

// EstimateClaim returns what Claim would pay at time at, without writing
func (e *Engine) EstimateClaim(r store.Reader, staker string, at uint64) (*uint256.Int, error) {
	ok, err := e.ledger.IsStaker(r, staker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAStaker
	}
	cfg, err := e.ledger.Config(r)
	if err != nil {
		return nil, err
	}
	last, err := e.ledger.LastAccrual(r)
	if err != nil {
		return nil, err
	}
	claim, err := e.ledger.Claim(r, staker)
	if err != nil {
		return nil, err
	}
	pass, err := e.computePass(r, cfg, last, at)
	if err != nil {
		return nil, err
	}
	for _, inc := range pass.Increments {
		if inc.Staker == staker {
			return fpmath.CheckedAdd(claim.Accrued, inc.Amount)
		}
	}
	return claim.Accrued, nil
}
