package ingestion

import (
	"DexLedger/internal/action"
	"DexLedger/internal/amm"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/factory"
	"DexLedger/internal/fees"
	fpmath "DexLedger/internal/math"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrMalformed is a payload the parser could not turn into an action
var ErrMalformed = fmt.Errorf("ingestion: malformed action: %w", dexerr.ErrInvalidInput)

// wire names used on subjects and the submit API
var wireTypes = map[string]action.Type{
	"stake":         action.TypeStake,
	"unstake":       action.TypeUnstake,
	"claim_rewards": action.TypeClaimRewards,
	"create_pair":   action.TypeCreatePair,
	"register_pair": action.TypeRegisterPair,
	"add_pairs":     action.TypeAddPairs,
	"set_config":    action.TypeSetConfig,
	"set_admin":     action.TypeSetAdmin,
	"add_liquidity": action.TypeAddLiquidity,
	"swap":          action.TypeSwap,
}

// TypeFromWire resolves a snake_case action name
func TypeFromWire(name string) (action.Type, error) {
	t, ok := wireTypes[name]
	if !ok {
		return action.TypeUnknown, fmt.Errorf("%w: unknown action type %q", ErrMalformed, name)
	}
	return t, nil
}

// ParseRawAction converts a RawAction into a typed action.Action
func ParseRawAction(raw RawAction, t action.Type) (action.Action, error) {
	return ParseAction(t, raw.Data)
}

// ParseAction decodes a JSON payload of the given type
func ParseAction(t action.Type, data []byte) (action.Action, error) {
	var env envelopeJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	meta, err := env.meta()
	if err != nil {
		return nil, err
	}

	switch t {
	case action.TypeStake:
		return parseStake(meta, data)
	case action.TypeUnstake:
		return &action.Unstake{Meta: meta}, nil
	case action.TypeClaimRewards:
		return &action.ClaimRewards{Meta: meta}, nil
	case action.TypeCreatePair:
		return parseCreatePair(meta, data)
	case action.TypeRegisterPair:
		return parseRegisterPair(meta, data)
	case action.TypeAddPairs:
		return parseAddPairs(meta, data)
	case action.TypeSetConfig:
		return parseSetConfig(meta, data)
	case action.TypeSetAdmin:
		return parseSetAdmin(meta, data)
	case action.TypeAddLiquidity:
		return parseAddLiquidity(meta, data)
	case action.TypeSwap:
		return parseSwap(meta, data)
	default:
		return nil, fmt.Errorf("%w: unknown action type %s", ErrMalformed, t)
	}
}

// --- JSON wire formats ---
// Field names use snake_case; amounts are base-10 strings.

type envelopeJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	Sender         string `json:"sender"`
	Contract       string `json:"contract"`
	BlockHeight    uint64 `json:"block_height"`
	BlockTime      uint64 `json:"block_time"`
}

func (e envelopeJSON) meta() (action.Meta, error) {
	if e.IdempotencyKey == "" {
		return action.Meta{}, fmt.Errorf("%w: idempotency_key is required", ErrMalformed)
	}
	if e.Sender == "" {
		return action.Meta{}, fmt.Errorf("%w: sender is required", ErrMalformed)
	}
	return action.Meta{
		Key: e.IdempotencyKey,
		Env: action.Env{
			Sender:      e.Sender,
			Contract:    e.Contract,
			BlockHeight: e.BlockHeight,
			BlockTime:   e.BlockTime,
		},
	}, nil
}

func decode(t string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return nil
}

// parseAmount parses a base-10 amount. An empty optional amount is nil.
func parseAmount(field, s string, required bool) (*uint256.Int, error) {
	if s == "" {
		if required {
			return nil, fmt.Errorf("%w: %s is required", ErrMalformed, field)
		}
		return nil, nil
	}
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return v, nil
}

type stakeJSON struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func parseStake(meta action.Meta, data []byte) (*action.Stake, error) {
	var j stakeJSON
	if err := decode("stake", data, &j); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount, true)
	if err != nil {
		return nil, err
	}
	return &action.Stake{Meta: meta, From: j.From, Amount: amount}, nil
}

type pairJSON struct {
	Pair amm.TokenPair `json:"pair"`
}

func parseCreatePair(meta action.Meta, data []byte) (*action.CreatePair, error) {
	var j pairJSON
	if err := decode("create_pair", data, &j); err != nil {
		return nil, err
	}
	return &action.CreatePair{Meta: meta, Pair: j.Pair}, nil
}

type registerPairJSON struct {
	Pair      amm.TokenPair `json:"pair"`
	Signature []byte        `json:"signature"` // base64
}

func parseRegisterPair(meta action.Meta, data []byte) (*action.RegisterPair, error) {
	var j registerPairJSON
	if err := decode("register_pair", data, &j); err != nil {
		return nil, err
	}
	if len(j.Signature) == 0 {
		return nil, fmt.Errorf("%w: signature is required", ErrMalformed)
	}
	return &action.RegisterPair{Meta: meta, Pair: j.Pair, Signature: j.Signature}, nil
}

type addPairsJSON struct {
	Pairs []amm.Pair `json:"pairs"`
}

func parseAddPairs(meta action.Meta, data []byte) (*action.AddPairs, error) {
	var j addPairsJSON
	if err := decode("add_pairs", data, &j); err != nil {
		return nil, err
	}
	return &action.AddPairs{Meta: meta, Pairs: j.Pairs}, nil
}

type setConfigJSON struct {
	PairContract *factory.CodeInfo `json:"pair_contract"`
	AMMSettings  *fees.Schedule    `json:"amm_settings"`
}

func parseSetConfig(meta action.Meta, data []byte) (*action.SetConfig, error) {
	var j setConfigJSON
	if err := decode("set_config", data, &j); err != nil {
		return nil, err
	}
	return &action.SetConfig{Meta: meta, PairContract: j.PairContract, AMMSettings: j.AMMSettings}, nil
}

type setAdminJSON struct {
	Admin string `json:"admin"`
}

func parseSetAdmin(meta action.Meta, data []byte) (*action.SetAdmin, error) {
	var j setAdminJSON
	if err := decode("set_admin", data, &j); err != nil {
		return nil, err
	}
	if j.Admin == "" {
		return nil, fmt.Errorf("%w: admin is required", ErrMalformed)
	}
	return &action.SetAdmin{Meta: meta, Admin: j.Admin}, nil
}

type addLiquidityJSON struct {
	Pool    string `json:"pool"`
	Amount0 string `json:"amount_0"`
	Amount1 string `json:"amount_1"`
}

func parseAddLiquidity(meta action.Meta, data []byte) (*action.AddLiquidity, error) {
	var j addLiquidityJSON
	if err := decode("add_liquidity", data, &j); err != nil {
		return nil, err
	}
	a0, err := parseAmount("amount_0", j.Amount0, false)
	if err != nil {
		return nil, err
	}
	a1, err := parseAmount("amount_1", j.Amount1, false)
	if err != nil {
		return nil, err
	}
	return &action.AddLiquidity{Meta: meta, Pool: j.Pool, Amount0: a0, Amount1: a1}, nil
}

type swapJSON struct {
	Pool           string `json:"pool"`
	OfferToken     string `json:"offer_token"`
	OfferAmount    string `json:"offer_amount"`
	ExpectedReturn string `json:"expected_return"`
	To             string `json:"to"`
}

func parseSwap(meta action.Meta, data []byte) (*action.Swap, error) {
	var j swapJSON
	if err := decode("swap", data, &j); err != nil {
		return nil, err
	}
	offer, err := parseAmount("offer_amount", j.OfferAmount, true)
	if err != nil {
		return nil, err
	}
	expected, err := parseAmount("expected_return", j.ExpectedReturn, false)
	if err != nil {
		return nil, err
	}
	return &action.Swap{
		Meta:           meta,
		Pool:           j.Pool,
		OfferToken:     j.OfferToken,
		OfferAmount:    offer,
		ExpectedReturn: expected,
		To:             j.To,
	}, nil
}
