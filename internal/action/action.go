package action

import (
	"DexLedger/internal/amm"
	"DexLedger/internal/factory"
	"DexLedger/internal/fees"

	"github.com/holiman/uint256"
)

// Type discriminator for action payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeStake
	TypeUnstake
	TypeClaimRewards
	TypeCreatePair
	TypeRegisterPair
	TypeAddPairs
	TypeSetConfig
	TypeSetAdmin
	TypeAddLiquidity
	TypeSwap
)

var typeNames = map[Type]string{
	TypeStake:        "Stake",
	TypeUnstake:      "Unstake",
	TypeClaimRewards: "ClaimRewards",
	TypeCreatePair:   "CreatePair",
	TypeRegisterPair: "RegisterPair",
	TypeAddPairs:     "AddPairs",
	TypeSetConfig:    "SetConfig",
	TypeSetAdmin:     "SetAdmin",
	TypeAddLiquidity: "AddLiquidity",
	TypeSwap:         "Swap",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseType is the inverse of String
func ParseType(s string) Type {
	for t, name := range typeNames {
		if name == s {
			return t
		}
	}
	return TypeUnknown
}

// Env is the execution environment the host chain supplies with every action.
// BlockTime is in seconds and is the only clock the engine reads.
type Env struct {
	Sender      string
	Contract    string
	BlockHeight uint64
	BlockTime   uint64
}

// Action is the interface all action payloads implement
type Action interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// ActionType returns the discriminator
	ActionType() Type

	// Environment returns the caller and block context
	Environment() Env
}

// Meta carries the fields shared by every action
type Meta struct {
	Key string
	Env Env
}

func (m Meta) IdempotencyKey() string { return m.Key }
func (m Meta) Environment() Env       { return m.Env }

// === Staking ===

// Stake arrives as the LP token's receive callback: Env.Sender is the token
// contract and From is the staker.
type Stake struct {
	Meta
	From   string
	Amount *uint256.Int
}

func (*Stake) ActionType() Type { return TypeStake }

type Unstake struct {
	Meta
}

func (*Unstake) ActionType() Type { return TypeUnstake }

type ClaimRewards struct {
	Meta
}

func (*ClaimRewards) ActionType() Type { return TypeClaimRewards }

// === Factory ===

type CreatePair struct {
	Meta
	Pair amm.TokenPair
}

func (*CreatePair) ActionType() Type { return TypeCreatePair }

// RegisterPair is the new pair contract calling back with the secret it was
// instantiated with.
type RegisterPair struct {
	Meta
	Pair      amm.TokenPair
	Signature []byte
}

func (*RegisterPair) ActionType() Type { return TypeRegisterPair }

type AddPairs struct {
	Meta
	Pairs []amm.Pair
}

func (*AddPairs) ActionType() Type { return TypeAddPairs }

// SetConfig replaces the non-nil fields of the factory config
type SetConfig struct {
	Meta
	PairContract *factory.CodeInfo
	AMMSettings  *fees.Schedule
}

func (*SetConfig) ActionType() Type { return TypeSetConfig }

type SetAdmin struct {
	Meta
	Admin string
}

func (*SetAdmin) ActionType() Type { return TypeSetAdmin }

// === Pools ===

type AddLiquidity struct {
	Meta
	Pool    string
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

func (*AddLiquidity) ActionType() Type { return TypeAddLiquidity }

// Swap offers OfferAmount of OfferToken to Pool. A nil ExpectedReturn skips
// the slippage guard; an empty To pays the sender.
type Swap struct {
	Meta
	Pool           string
	OfferToken     string
	OfferAmount    *uint256.Int
	ExpectedReturn *uint256.Int
	To             string
}

func (*Swap) ActionType() Type { return TypeSwap }

// Recipient resolves To against the sender
func (s *Swap) Recipient() string {
	if s.To != "" {
		return s.To
	}
	return s.Env.Sender
}
