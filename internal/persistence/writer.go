package persistence

import (
	"DexLedger/internal/action"
	"DexLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReceiptLogWriter writes applied actions and their journals to Postgres
// using multi-row INSERTs.
type ReceiptLogWriter struct {
	db *sql.DB
}

// ActionRow represents a row in event_log.actions
type ActionRow struct {
	Sequence       uint64
	ReceiptID      string
	ActionType     string
	IdempotencyKey string
	Sender         string
	BlockHeight    uint64
	BlockTime      uint64
	Result         []byte // JSON-encoded result
	StateHash      []byte
	PrevHash       []byte
	AppliedAt      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      uint64
	DebitAccount  string
	CreditAccount string
	Token         string
	Amount        string // decimal string, NUMERIC(39,0)
	JournalType   string
	BlockTime     uint64
}

// Output is one receipt flattened into rows
type Output struct {
	Action   ActionRow
	Journals []JournalRow
}

func NewReceiptLogWriter(db *sql.DB) *ReceiptLogWriter {
	return &ReceiptLogWriter{db: db}
}

type resultJSON struct {
	Messages []messageJSON      `json:"messages"`
	Log      []action.Attribute `json:"log"`
}

type messageJSON struct {
	Kind      string `json:"kind"`
	Token     string `json:"token,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	CodeID    uint64 `json:"code_id,omitempty"`
	CodeHash  string `json:"code_hash,omitempty"`
	Label     string `json:"label,omitempty"`
}

// MarshalResult encodes a result for the result column
func MarshalResult(r *action.Result) ([]byte, error) {
	out := resultJSON{Messages: []messageJSON{}, Log: r.Log}
	for _, m := range r.Messages {
		mj := messageJSON{Kind: m.Kind()}
		switch {
		case m.Transfer != nil:
			mj.Token = m.Transfer.Token
			mj.Recipient = m.Transfer.Recipient
			mj.Amount = m.Transfer.Amount.Dec()
		case m.Instantiate != nil:
			mj.CodeID = m.Instantiate.CodeID
			mj.CodeHash = m.Instantiate.CodeHash
			mj.Label = m.Instantiate.Label
		}
		out.Messages = append(out.Messages, mj)
	}
	if out.Log == nil {
		out.Log = []action.Attribute{}
	}
	return json.Marshal(out)
}

// FromReceipt flattens a core receipt into rows
func FromReceipt(r core.Receipt) (Output, error) {
	result, err := MarshalResult(r.Result)
	if err != nil {
		return Output{}, fmt.Errorf("encode result of %d: %w", r.Sequence, err)
	}
	out := Output{
		Action: ActionRow{
			Sequence:       r.Sequence,
			ReceiptID:      r.ReceiptID.String(),
			ActionType:     r.ActionType.String(),
			IdempotencyKey: r.IdempotencyKey,
			Sender:         r.Env.Sender,
			BlockHeight:    r.Env.BlockHeight,
			BlockTime:      r.Env.BlockTime,
			Result:         result,
			StateHash:      r.StateHash[:],
			PrevHash:       r.PrevHash[:],
			AppliedAt:      r.AppliedAt,
		},
	}
	if r.Batch == nil {
		return out, nil
	}
	for _, j := range r.Batch.Journals {
		out.Journals = append(out.Journals, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Token:         j.Token(),
			Amount:        j.Amount.Dec(),
			JournalType:   j.JournalType.String(),
			BlockTime:     j.Timestamp,
		})
	}
	return out, nil
}

// WriteActionBatch writes a batch of actions to event_log.actions
func (w *ReceiptLogWriter) WriteActionBatch(ctx context.Context, tx *sql.Tx, rows []ActionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.actions
		(sequence, receipt_id, action_type, idempotency_key, sender, block_height, block_time, result, state_hash, prev_hash, applied_at)
		VALUES `

	const cols = 11
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)

	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			int64(r.Sequence), r.ReceiptID, r.ActionType, r.IdempotencyKey, r.Sender,
			int64(r.BlockHeight), int64(r.BlockTime), r.Result, r.StateHash, r.PrevHash, r.AppliedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal
func (w *ReceiptLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, token, amount, journal_type, block_time)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)

	for i, j := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, int64(j.Sequence),
			j.DebitAccount, j.CreditAccount, j.Token, j.Amount,
			j.JournalType, int64(j.BlockTime),
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// RecentKeys returns the "type:key" pairs of the last limit actions, for
// warming the dedup cache on restart.
func (w *ReceiptLogWriter) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT action_type, idempotency_key
		FROM event_log.actions
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var t, k string
		if err := rows.Scan(&t, &k); err != nil {
			return nil, err
		}
		keys = append(keys, t+":"+k)
	}
	return keys, rows.Err()
}

// LastSequence returns the highest persisted sequence, 0 if none
func (w *ReceiptLogWriter) LastSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.actions`).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq.Int64), nil
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
