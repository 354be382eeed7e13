// Package handshake authenticates the callback of a contract the system
// asked to be instantiated. Begin stores a one-time secret that travels in
// the instantiate message; Complete accepts the callback only if it carries
// that secret back, and consumes it.
package handshake

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/store"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// KeySecret holds the pending secret; absent while idle
const KeySecret = "ephemeral_secret"

var (
	ErrUnauthorized     = fmt.Errorf("handshake: secret mismatch: %w", dexerr.ErrUnauthorized)
	ErrNoPending        = fmt.Errorf("handshake: no callback expected: %w", dexerr.ErrUnauthorized)
	ErrHandshakeExpired = fmt.Errorf("handshake: secret expired: %w", dexerr.ErrUnauthorized)
	ErrHandshakePending = fmt.Errorf("handshake: callback already pending: %w", dexerr.ErrConflict)
)

type State int

const (
	StateIdle State = iota
	StateAwaitingCallback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingCallback:
		return "AwaitingCallback"
	default:
		return "Unknown"
	}
}

// Pending is the AwaitingCallback payload
type Pending struct {
	Secret    []byte `json:"secret"`
	IssuedAt  uint64 `json:"issued_at"`
	ExpiresAt uint64 `json:"expires_at"` // 0: never
}

func (p *Pending) Expired(now uint64) bool {
	return p.ExpiresAt != 0 && now >= p.ExpiresAt
}

type Options struct {
	// TTL in seconds of block time; 0 disables expiry
	TTL uint64

	// AllowOverwrite lets Begin replace an unexpired pending secret
	// instead of failing with ErrHandshakePending.
	AllowOverwrite bool
}

// CompatOptions reproduce the deployed factory: no expiry, Begin overwrites
func CompatOptions() Options {
	return Options{TTL: 0, AllowOverwrite: true}
}

type Handshake struct {
	opts Options
}

func New(opts Options) *Handshake {
	return &Handshake{opts: opts}
}

// Signature is sender || height (big-endian u64) || time (big-endian u64)
func Signature(sender string, height, blockTime uint64) []byte {
	sig := make([]byte, 0, len(sender)+16)
	sig = append(sig, sender...)
	sig = binary.BigEndian.AppendUint64(sig, height)
	sig = binary.BigEndian.AppendUint64(sig, blockTime)
	return sig
}

// Load returns the protocol state and the pending secret, if any
func (h *Handshake) Load(r store.Reader) (State, *Pending, error) {
	var p Pending
	found, err := store.LoadJSON(r, KeySecret, &p)
	if err != nil {
		return StateIdle, nil, err
	}
	if !found {
		return StateIdle, nil, nil
	}
	return StateAwaitingCallback, &p, nil
}

// Begin derives and stores a fresh secret and returns it for the outbound
// instantiate message.
func (h *Handshake) Begin(rw store.ReadWriter, sender string, height, now uint64) ([]byte, error) {
	state, pending, err := h.Load(rw)
	if err != nil {
		return nil, err
	}
	if state == StateAwaitingCallback && !h.opts.AllowOverwrite && !pending.Expired(now) {
		return nil, ErrHandshakePending
	}

	p := Pending{
		Secret:   Signature(sender, height, now),
		IssuedAt: now,
	}
	if h.opts.TTL > 0 {
		p.ExpiresAt = now + h.opts.TTL
	}
	if err := store.SaveJSON(rw, KeySecret, p); err != nil {
		return nil, err
	}
	return p.Secret, nil
}

// Complete consumes the pending secret if presented matches it. On any
// failure the slot is left as it was.
func (h *Handshake) Complete(rw store.ReadWriter, presented []byte, now uint64) error {
	state, pending, err := h.Load(rw)
	if err != nil {
		return err
	}
	if state == StateIdle {
		return ErrNoPending
	}
	if pending.Expired(now) {
		return ErrHandshakeExpired
	}
	if len(pending.Secret) == 0 || subtle.ConstantTimeCompare(pending.Secret, presented) != 1 {
		return ErrUnauthorized
	}
	return rw.Delete(KeySecret)
}
