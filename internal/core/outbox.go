package core

import (
	"DexLedger/internal/action"
	"DexLedger/internal/store"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

const (
	prefixOutbox     = "outbox:"
	KeyOutboxPending = "outbox_pending"
)

func outboxKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", prefixOutbox, seq)
}

// OutboxEntry holds the messages of one applied action until the publisher
// has confirmed every one of them. It is written in the action's own
// transaction, so a commit never exists without its messages.
type OutboxEntry struct {
	Sequence       uint64
	ActionType     string
	IdempotencyKey string
	Messages       []action.Message
}

type outboxJSON struct {
	Sequence       uint64              `json:"sequence"`
	ActionType     string              `json:"action_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	Messages       []outboxMessageJSON `json:"messages"`
}

type outboxMessageJSON struct {
	Kind      string `json:"kind"`
	Token     string `json:"token,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	CodeID    uint64 `json:"code_id,omitempty"`
	CodeHash  string `json:"code_hash,omitempty"`
	Label     string `json:"label,omitempty"`
	Msg       []byte `json:"msg,omitempty"`
}

func encodeOutbox(e OutboxEntry) outboxJSON {
	j := outboxJSON{
		Sequence:       e.Sequence,
		ActionType:     e.ActionType,
		IdempotencyKey: e.IdempotencyKey,
		Messages:       make([]outboxMessageJSON, 0, len(e.Messages)),
	}
	for _, m := range e.Messages {
		mj := outboxMessageJSON{Kind: m.Kind()}
		switch {
		case m.Transfer != nil:
			mj.Token = m.Transfer.Token
			mj.Recipient = m.Transfer.Recipient
			mj.Amount = m.Transfer.Amount.Dec()
		case m.Instantiate != nil:
			mj.CodeID = m.Instantiate.CodeID
			mj.CodeHash = m.Instantiate.CodeHash
			mj.Label = m.Instantiate.Label
			mj.Msg = m.Instantiate.Msg
		}
		j.Messages = append(j.Messages, mj)
	}
	return j
}

func decodeOutbox(j outboxJSON) (OutboxEntry, error) {
	e := OutboxEntry{
		Sequence:       j.Sequence,
		ActionType:     j.ActionType,
		IdempotencyKey: j.IdempotencyKey,
		Messages:       make([]action.Message, 0, len(j.Messages)),
	}
	for i, mj := range j.Messages {
		switch mj.Kind {
		case "transfer":
			amount, err := uint256.FromDecimal(mj.Amount)
			if err != nil {
				return OutboxEntry{}, fmt.Errorf("outbox %d message %d amount: %w", j.Sequence, i, err)
			}
			e.Messages = append(e.Messages, action.Message{Transfer: &action.Transfer{
				Token: mj.Token, Recipient: mj.Recipient, Amount: amount,
			}})
		case "instantiate":
			e.Messages = append(e.Messages, action.Message{Instantiate: &action.Instantiate{
				CodeID: mj.CodeID, CodeHash: mj.CodeHash, Label: mj.Label, Msg: mj.Msg,
			}})
		default:
			return OutboxEntry{}, fmt.Errorf("outbox %d message %d: unknown kind %q", j.Sequence, i, mj.Kind)
		}
	}
	return e, nil
}

func loadPending(r store.Reader) ([]uint64, error) {
	var seqs []uint64
	if _, err := store.LoadJSON(r, KeyOutboxPending, &seqs); err != nil {
		return nil, err
	}
	return seqs, nil
}

func savePending(w store.Writer, seqs []uint64) error {
	if len(seqs) == 0 {
		return w.Delete(KeyOutboxPending)
	}
	return store.SaveJSON(w, KeyOutboxPending, seqs)
}

// writeOutbox stages entry and indexes its sequence as pending, returning
// the pending count. Actions without messages leave no entry.
func writeOutbox(tx *store.Tx, entry OutboxEntry) (int, error) {
	seqs, err := loadPending(tx)
	if err != nil {
		return 0, err
	}
	if len(entry.Messages) == 0 {
		return len(seqs), nil
	}
	if err := store.SaveJSON(tx, outboxKey(entry.Sequence), encodeOutbox(entry)); err != nil {
		return 0, err
	}
	seqs = append(seqs, entry.Sequence)
	return len(seqs), savePending(tx, seqs)
}

func loadOutbox(r store.Reader, seq uint64) (*OutboxEntry, bool, error) {
	var j outboxJSON
	found, err := store.LoadJSON(r, outboxKey(seq), &j)
	if err != nil || !found {
		return nil, false, err
	}
	entry, err := decodeOutbox(j)
	if err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

// PendingOutbox returns every unconfirmed entry, oldest first
func (e *Engine) PendingOutbox() ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := e.View(func(r store.Reader) error {
		seqs, err := loadPending(r)
		if err != nil {
			return err
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		for _, seq := range seqs {
			entry, found, err := loadOutbox(r, seq)
			if err != nil {
				return err
			}
			if found {
				entries = append(entries, *entry)
			}
		}
		return nil
	})
	return entries, err
}

// OutboxFor returns the unconfirmed entry of an applied action. It reports
// false when the action was never applied, emitted nothing, or its messages
// were already confirmed.
func (e *Engine) OutboxFor(actionType, idempotencyKey string) (*OutboxEntry, bool, error) {
	var (
		entry *OutboxEntry
		found bool
	)
	err := e.View(func(r store.Reader) error {
		marker, err := r.Get(processedKey(actionType, idempotencyKey))
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seq := new(uint256.Int).SetBytes(marker).Uint64()
		entry, found, err = loadOutbox(r, seq)
		return err
	})
	return entry, found, err
}

// CompleteOutbox drops the entry of seq once all of its messages are
// published. Completing an unknown or already completed entry is a no-op.
func (e *Engine) CompleteOutbox(seq uint64) error {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	tx := store.Begin(e.backend)
	defer tx.Discard()

	seqs, err := loadPending(tx)
	if err != nil {
		return err
	}
	kept := seqs[:0]
	for _, s := range seqs {
		if s != seq {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(seqs) {
		return nil
	}
	if err := savePending(tx, kept); err != nil {
		return err
	}
	if err := tx.Delete(outboxKey(seq)); err != nil {
		return err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete outbox %d: %w", seq, err)
	}
	if e.metrics != nil {
		e.metrics.OutboxPending.Set(float64(len(kept)))
	}
	return nil
}
