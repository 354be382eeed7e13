// Package store is the durable key-value layer the engine persists its state in.
// Every action runs against a Tx, a buffered write-set over a Backend that
// commits all of its writes at once or none of them.
package store

import (
	"DexLedger/internal/dexerr"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound = fmt.Errorf("store: key %w", dexerr.ErrNotFound)
	ErrTxClosed = errors.New("store: transaction already committed or discarded")
)

// Reader loads a value by key. Missing keys return ErrNotFound.
type Reader interface {
	Get(key string) ([]byte, error)
}

// Writer buffers mutations
type Writer interface {
	Put(key string, value []byte) error
	Delete(key string) error
}

// ReadWriter is what domain components mutate state through
type ReadWriter interface {
	Reader
	Writer
}

// Op is one buffered mutation
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend is a durable store that can apply a set of ops atomically
type Backend interface {
	Reader
	Commit(ops []Op) error
	Close() error
}

// Tx overlays uncommitted writes on a Backend.
// Not thread-safe; owned by the goroutine executing one action.
type Tx struct {
	backend Backend
	writes  map[string]Op
	done    bool
}

// Begin opens a transaction over b
func Begin(b Backend) *Tx {
	return &Tx{
		backend: b,
		writes:  make(map[string]Op),
	}
}

// Get reads through the write-set, so a transaction observes its own writes
func (tx *Tx) Get(key string) ([]byte, error) {
	if op, ok := tx.writes[key]; ok {
		if op.Delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.Value...), nil
	}
	return tx.backend.Get(key)
}

func (tx *Tx) Put(key string, value []byte) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.writes[key] = Op{Key: key, Value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) Delete(key string) error {
	if tx.done {
		return ErrTxClosed
	}
	tx.writes[key] = Op{Key: key, Delete: true}
	return nil
}

// Ops returns the buffered mutations sorted by key
func (tx *Tx) Ops() []Op {
	ops := make([]Op, 0, len(tx.writes))
	for _, op := range tx.writes {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Key < ops[j].Key
	})
	return ops
}

// Commit applies every buffered write to the backend in one atomic batch
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true
	if len(tx.writes) == 0 {
		return nil
	}
	return tx.backend.Commit(tx.Ops())
}

// Discard drops all buffered writes. Safe to call after Commit.
func (tx *Tx) Discard() {
	tx.done = true
	tx.writes = nil
}

// === JSON records ===

// LoadJSON decodes the record at key into v. It reports false, with no error,
// when the key is absent. Undecodable bytes are a corrupt record.
func LoadJSON(r Reader, key string, v interface{}) (bool, error) {
	data, err := r.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %v: %w", key, err, dexerr.ErrCorruptRecord)
	}
	return true, nil
}

// SaveJSON encodes v and writes it under key
func SaveJSON(w Writer, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Put(key, data)
}
