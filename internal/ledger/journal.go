package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeStakeDeposit JournalType = iota
	JournalTypePrincipalReturn
	JournalTypeRewardPayout
	JournalTypeLiquidityDeposit
	JournalTypeSwapOffer
	JournalTypeLPFee
	JournalTypeProtocolFee
	JournalTypeProtocolFeePayout
	JournalTypeSwapReturn
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeStakeDeposit:
		return "stake_deposit"
	case JournalTypePrincipalReturn:
		return "principal_return"
	case JournalTypeRewardPayout:
		return "reward_payout"
	case JournalTypeLiquidityDeposit:
		return "liquidity_deposit"
	case JournalTypeSwapOffer:
		return "swap_offer"
	case JournalTypeLPFee:
		return "lp_fee"
	case JournalTypeProtocolFee:
		return "protocol_fee"
	case JournalTypeProtocolFeePayout:
		return "protocol_fee_payout"
	case JournalTypeSwapReturn:
		return "swap_return"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Derived from the batch and leg index
	BatchID       uuid.UUID    // Groups the legs of one action
	EventRef      string       // Idempotency key of the source action
	Sequence      uint64       // Engine sequence of the action
	DebitAccount  AccountKey   // Account receiving value
	CreditAccount AccountKey   // Account giving value
	Amount        *uint256.Int // Always positive
	JournalType   JournalType
	Timestamp     uint64 // Block time, seconds
}

// Token is the token moved by the entry
func (j Journal) Token() string {
	return j.DebitAccount.Token
}

// IsOutbound reports whether the entry moves custodied value to a user
func (j Journal) IsOutbound() bool {
	return j.CreditAccount.IsContractHeld() && !j.DebitAccount.IsContractHeld()
}

// Batch represents the balanced set of journal entries of one action
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  uint64
	Timestamp uint64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves a single positive amount from credit to debit in one
// token, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Token != j.CreditAccount.Token {
			return fmt.Errorf("journal %s moves between tokens %s and %s",
				j.JournalID, j.CreditAccount.Token, j.DebitAccount.Token)
		}
	}

	return nil
}

// Outbound returns the entries that need an outbound token transfer
func (b *Batch) Outbound() []Journal {
	var out []Journal
	for _, j := range b.Journals {
		if j.IsOutbound() {
			out = append(out, j)
		}
	}
	return out
}
