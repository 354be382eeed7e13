package core

import (
	"DexLedger/internal/action"
	"DexLedger/internal/admin"
	"DexLedger/internal/amm"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/handshake"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/staking"
	"DexLedger/internal/store"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrWrongToken is a stake receive callback from a token other than the
// configured LP token.
var ErrWrongToken = fmt.Errorf("stake: sender is not the lp token: %w", dexerr.ErrUnauthorized)

// outcome is what a handler produced inside the action's transaction
type outcome struct {
	result *action.Result
	batch  *ledger.Batch
	pass   *staking.Pass
	swap   *amm.SwapOutcome
}

// eventRef ties journals to the action that produced them
func eventRef(a action.Action) string {
	return a.ActionType().String() + ":" + a.IdempotencyKey()
}

func (e *Engine) dispatch(tx *store.Tx, a action.Action, seq uint64) (*outcome, error) {
	switch act := a.(type) {
	case *action.Stake:
		return e.handleStake(tx, act, seq)
	case *action.Unstake:
		return e.handleUnstake(tx, act, seq)
	case *action.ClaimRewards:
		return e.handleClaimRewards(tx, act, seq)
	case *action.CreatePair:
		return e.handleCreatePair(tx, act)
	case *action.RegisterPair:
		return e.handleRegisterPair(tx, act)
	case *action.AddPairs:
		return e.handleAddPairs(tx, act)
	case *action.SetConfig:
		return e.handleSetConfig(tx, act)
	case *action.SetAdmin:
		return e.handleSetAdmin(tx, act)
	case *action.AddLiquidity:
		return e.handleAddLiquidity(tx, act, seq)
	case *action.Swap:
		return e.handleSwap(tx, act, seq)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
}

// === Staking ===

func (e *Engine) handleStake(tx *store.Tx, a *action.Stake, seq uint64) (*outcome, error) {
	cfg, err := e.staking.Ledger().Config(tx)
	if err != nil {
		return nil, err
	}
	if a.Env.Sender != cfg.LPToken {
		return nil, fmt.Errorf("%w: %s", ErrWrongToken, a.Env.Sender)
	}
	if a.From == "" {
		return nil, fmt.Errorf("stake: empty staker: %w", dexerr.ErrInvalidInput)
	}

	pass, err := e.staking.Stake(tx, a.From, a.Amount, a.Env.BlockTime)
	if err != nil {
		return nil, err
	}
	batch, err := e.journalGen.GenerateStake(eventRef(a), seq, a.Env.BlockTime, a.From, cfg.LPToken, a.Amount)
	if err != nil {
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "stake")
	res.Attr("staker", a.From)
	res.Attr("amount", a.Amount)
	return &outcome{result: res, batch: batch, pass: pass}, nil
}

func (e *Engine) handleUnstake(tx *store.Tx, a *action.Unstake, seq uint64) (*outcome, error) {
	cfg, err := e.staking.Ledger().Config(tx)
	if err != nil {
		return nil, err
	}
	staker := a.Env.Sender

	principal, reward, pass, err := e.staking.Unstake(tx, staker, a.Env.BlockTime)
	if err != nil {
		return nil, err
	}
	batch, err := e.journalGen.GenerateUnstake(
		eventRef(a), seq, a.Env.BlockTime,
		staker, cfg.LPToken, cfg.RewardToken,
		principal, reward,
	)
	if err != nil {
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "unstake")
	res.Attr("staker", staker)
	res.Attr("principal", principal)
	res.Attr("reward", reward)
	return &outcome{result: res, batch: batch, pass: pass}, nil
}

func (e *Engine) handleClaimRewards(tx *store.Tx, a *action.ClaimRewards, seq uint64) (*outcome, error) {
	cfg, err := e.staking.Ledger().Config(tx)
	if err != nil {
		return nil, err
	}
	staker := a.Env.Sender

	reward, pass, err := e.staking.Claim(tx, staker, a.Env.BlockTime)
	if err != nil {
		return nil, err
	}
	batch, err := e.journalGen.GenerateClaim(eventRef(a), seq, a.Env.BlockTime, staker, cfg.RewardToken, reward)
	if err != nil {
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "claim_rewards")
	res.Attr("staker", staker)
	res.Attr("reward", reward)
	return &outcome{result: res, batch: batch, pass: pass}, nil
}

func (e *Engine) observeStakers(r store.Reader) {
	if e.metrics == nil {
		return
	}
	if stakers, err := e.staking.Ledger().Stakers(r); err == nil {
		e.metrics.StakersActive.Set(float64(len(stakers)))
	}
	if total, err := e.staking.Ledger().TotalStaked(r); err == nil {
		e.metrics.TotalStaked.Set(toFloat(total))
	}
}

// === Factory ===

func (e *Engine) handleCreatePair(tx *store.Tx, a *action.CreatePair) (*outcome, error) {
	inst, err := e.registry.CreatePair(tx, a.Env.Contract, a.Env.Sender, a.Env.BlockHeight, a.Env.BlockTime, a.Pair)
	if err != nil {
		e.handshakeRejected(err)
		return nil, err
	}

	res := &action.Result{}
	res.AddInstantiate(action.Instantiate{
		CodeID:   inst.CodeID,
		CodeHash: inst.CodeHash,
		Label:    inst.Label,
		Msg:      inst.Msg,
	})
	res.Attr("action", "create_pair")
	res.Attr("pair", a.Pair)
	if e.metrics != nil {
		e.metrics.HandshakesBegun.Inc()
	}
	return &outcome{result: res}, nil
}

func (e *Engine) handleRegisterPair(tx *store.Tx, a *action.RegisterPair) (*outcome, error) {
	p, err := e.registry.RegisterPair(tx, a.Env.Sender, a.Pair, a.Signature, a.Env.BlockTime)
	if err != nil {
		e.handshakeRejected(err)
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "register_pair")
	res.Attr("pair", p.Pair)
	res.Attr("address", p.Address)
	if e.metrics != nil {
		e.metrics.HandshakesCompleted.Inc()
	}
	return &outcome{result: res}, nil
}

func (e *Engine) handshakeRejected(err error) {
	if e.metrics == nil {
		return
	}
	var reason string
	switch {
	case errors.Is(err, handshake.ErrHandshakePending):
		reason = "pending"
	case errors.Is(err, handshake.ErrHandshakeExpired):
		reason = "expired"
	case errors.Is(err, handshake.ErrNoPending):
		reason = "no_pending"
	case errors.Is(err, handshake.ErrUnauthorized):
		reason = "mismatch"
	default:
		return
	}
	e.metrics.HandshakesRejected.WithLabelValues(reason).Inc()
}

func (e *Engine) handleAddPairs(tx *store.Tx, a *action.AddPairs) (*outcome, error) {
	if err := e.registry.AddPairs(tx, a.Env.Sender, a.Pairs); err != nil {
		return nil, err
	}
	res := &action.Result{}
	res.Attr("action", "add_pairs")
	res.Attr("count", len(a.Pairs))
	return &outcome{result: res}, nil
}

func (e *Engine) handleSetConfig(tx *store.Tx, a *action.SetConfig) (*outcome, error) {
	cfg, err := e.registry.SetConfig(tx, a.Env.Sender, a.PairContract, a.AMMSettings)
	if err != nil {
		return nil, err
	}
	res := &action.Result{}
	res.Attr("action", "set_config")
	res.Attr("pair_code_id", cfg.PairContract.ID)
	res.Attr("lp_fee", cfg.AMMSettings.LPFee)
	res.Attr("protocol_fee", cfg.AMMSettings.ProtocolFee)
	return &outcome{result: res}, nil
}

func (e *Engine) handleSetAdmin(tx *store.Tx, a *action.SetAdmin) (*outcome, error) {
	if err := admin.SetAdmin(tx, a.Env.Sender, a.Admin); err != nil {
		return nil, err
	}
	res := &action.Result{}
	res.Attr("action", "set_admin")
	res.Attr("admin", a.Admin)
	return &outcome{result: res}, nil
}

// === Pools ===

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (e *Engine) handleAddLiquidity(tx *store.Tx, a *action.AddLiquidity, seq uint64) (*outcome, error) {
	amount0, amount1 := orZero(a.Amount0), orZero(a.Amount1)
	pool, err := amm.AddLiquidity(tx, a.Pool, amount0, amount1)
	if err != nil {
		return nil, err
	}
	batch, err := e.journalGen.GenerateAddLiquidity(
		eventRef(a), seq, a.Env.BlockTime,
		a.Env.Sender, pool.Address, pool.Pair.Token0, pool.Pair.Token1,
		amount0, amount1,
	)
	if err != nil {
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "add_liquidity")
	res.Attr("pool", pool.Address)
	res.Attr("amount_0", amount0)
	res.Attr("amount_1", amount1)
	return &outcome{result: res, batch: batch}, nil
}

func (e *Engine) handleSwap(tx *store.Tx, a *action.Swap, seq uint64) (*outcome, error) {
	sw, err := amm.Swap(tx, a.Pool, a.OfferToken, a.OfferAmount, a.ExpectedReturn, a.Env.BlockTime)
	if err != nil {
		return nil, err
	}
	settlement := sw.Info.Settlement
	batch, err := e.journalGen.GenerateSwap(eventRef(a), seq, a.Env.BlockTime, ledger.SwapLegs{
		Trader:       a.Env.Sender,
		Recipient:    a.Recipient(),
		PoolAddr:     sw.Pool.Address,
		OfferToken:   sw.OfferToken,
		AskToken:     sw.AskToken,
		Net:          settlement.Net,
		LPFee:        settlement.LPFee,
		ProtocolFee:  settlement.ProtocolFee,
		FeeRecipient: sw.Pool.Fees.ProtocolFeeRecipient,
		Return:       sw.Info.Result.ReturnAmount,
	})
	if err != nil {
		return nil, err
	}

	res := &action.Result{}
	res.Attr("action", "swap")
	res.Attr("offer_token", sw.OfferToken)
	res.Attr("offer_amount", a.OfferAmount)
	res.Attr("return_amount", sw.Info.Result.ReturnAmount)
	res.Attr("spread_amount", sw.Info.Result.SpreadAmount)
	res.Attr("lp_fee", settlement.LPFee)
	res.Attr("protocol_fee", settlement.ProtocolFee)
	res.Attr("total_fee", settlement.TotalFee())
	res.Attr("price", fpmath.FormatDecimal(sw.Info.Price))
	return &outcome{result: res, batch: batch, swap: sw}, nil
}
