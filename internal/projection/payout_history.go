package projection

import (
	"sync"

	"github.com/holiman/uint256"
)

// PayoutEntry is one reward paid to a staker
type PayoutEntry struct {
	Sequence  uint64
	Staker    string
	Token     string
	Amount    *uint256.Int
	BlockTime uint64
}

// PayoutHistory keeps the most recent payouts in memory for queries.
// Safe for one writer and concurrent readers.
type PayoutHistory struct {
	mu       sync.RWMutex
	entries  []PayoutEntry
	capacity int
}

func NewPayoutHistory(capacity int) *PayoutHistory {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &PayoutHistory{
		entries:  make([]PayoutEntry, 0, capacity),
		capacity: capacity,
	}
}

// Add records a payout, evicting the oldest entry when full
func (p *PayoutHistory) Add(entry PayoutEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == p.capacity {
		copy(p.entries, p.entries[1:])
		p.entries = p.entries[:len(p.entries)-1]
	}
	p.entries = append(p.entries, entry)
}

// QueryByStaker returns up to limit payouts of staker, newest first
func (p *PayoutHistory) QueryByStaker(staker string, limit int) []PayoutEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PayoutEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Staker == staker {
			result = append(result, p.entries[i])
		}
	}
	return result
}

func (p *PayoutHistory) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
