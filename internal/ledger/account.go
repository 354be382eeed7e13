package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopePool
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemStakeVault
	SubTypeSystemRewardPool

	// Pool sub-types
	SubTypePoolReserve
)

// AccountKey identifies one token balance of one holder
type AccountKey struct {
	Scope   AccountScope
	Entity  string // address for users and pools, contract name for system accounts
	SubType AccountSubType
	Token   string
}

// NewUserAccountKey creates a key for a user's wallet
func NewUserAccountKey(addr, token string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  addr,
		SubType: SubTypeWallet,
		Token:   token,
	}
}

// NewSystemAccountKey creates a key for accounts held by the staking contract
func NewSystemAccountKey(name string, subType AccountSubType, token string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Entity:  name,
		SubType: subType,
		Token:   token,
	}
}

// NewPoolAccountKey creates a key for one side of a pool's reserves
func NewPoolAccountKey(poolAddr, token string) AccountKey {
	return AccountKey{
		Scope:   AccountScopePool,
		Entity:  poolAddr,
		SubType: SubTypePoolReserve,
		Token:   token,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.subTypeName(), k.Token)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Entity, k.subTypeName(), k.Token)
	case AccountScopePool:
		return fmt.Sprintf("pool:%s:%s:%s", k.Entity, k.subTypeName(), k.Token)
	}
	return "unknown"
}

// IsContractHeld reports whether the balance is custodied by the system.
// Value leaving such an account needs an outbound transfer.
func (k AccountKey) IsContractHeld() bool {
	return k.Scope != AccountScopeUser
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemStakeVault:
		return "stake_vault"
	case SubTypeSystemRewardPool:
		return "reward_pool"
	case SubTypePoolReserve:
		return "reserve"
	default:
		return "unknown"
	}
}
