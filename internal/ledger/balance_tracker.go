package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BalanceTracker maintains in-memory account balances. User wallets go
// negative as value flows into custody, so balances are signed.
type BalanceTracker struct {
	balances map[AccountKey]decimal.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]decimal.Decimal),
	}
}

func toDecimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amt := toDecimal(j.Amount)
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(amt)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(amt)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) decimal.Decimal {
	return bt.balances[key]
}

// GetPoolReserve returns the tracked reserve of one side of a pool
func (bt *BalanceTracker) GetPoolReserve(poolAddr, token string) decimal.Decimal {
	return bt.GetBalance(NewPoolAccountKey(poolAddr, token))
}

// GetStakeVault returns the LP tokens held for stakers
func (bt *BalanceTracker) GetStakeVault(lpToken string) decimal.Decimal {
	return bt.GetBalance(NewSystemAccountKey(SystemStaking, SubTypeSystemStakeVault, lpToken))
}

// ComputeGlobalBalance sums all account balances per token (should be 0)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)

	for key, balance := range bt.balances {
		totals[key.Token] = totals[key.Token].Add(balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]decimal.Decimal {
	snapshot := make(map[AccountKey]decimal.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
