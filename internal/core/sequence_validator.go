package core

import (
	"DexLedger/internal/action"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/store"
	"fmt"
	"sync/atomic"
)

// KeyBlockClock stores the block height and time of the last applied action
const KeyBlockClock = "block_clock"

var ErrStaleBlock = fmt.Errorf("block clock went backwards: %w", dexerr.ErrInvalidInput)

// BlockClock is the engine's only notion of time
type BlockClock struct {
	Height uint64 `json:"height"`
	Time   uint64 `json:"time"`
}

// ClockValidator rejects actions whose block context precedes the last
// applied action. Equal height and time are allowed: many actions share a
// block.
type ClockValidator struct {
	staleHeight atomic.Int64
	staleTime   atomic.Int64
}

func NewClockValidator() *ClockValidator {
	return &ClockValidator{}
}

func (v *ClockValidator) Load(r store.Reader) (BlockClock, error) {
	var c BlockClock
	if _, err := store.LoadJSON(r, KeyBlockClock, &c); err != nil {
		return BlockClock{}, err
	}
	return c, nil
}

// Validate checks env against the stored clock. It returns the field that
// went backwards for metrics.
func (v *ClockValidator) Validate(r store.Reader, env action.Env) (string, error) {
	last, err := v.Load(r)
	if err != nil {
		return "", err
	}
	if env.BlockHeight < last.Height {
		v.staleHeight.Add(1)
		return "height", fmt.Errorf("%w: height %d < %d", ErrStaleBlock, env.BlockHeight, last.Height)
	}
	if env.BlockTime < last.Time {
		v.staleTime.Add(1)
		return "time", fmt.Errorf("%w: time %d < %d", ErrStaleBlock, env.BlockTime, last.Time)
	}
	return "", nil
}

// Advance records env as the latest applied block context
func (v *ClockValidator) Advance(w store.Writer, env action.Env) error {
	return store.SaveJSON(w, KeyBlockClock, BlockClock{Height: env.BlockHeight, Time: env.BlockTime})
}

// Rejections returns how many actions were stale by height and by time
func (v *ClockValidator) Rejections() (height, time int64) {
	return v.staleHeight.Load(), v.staleTime.Load()
}
