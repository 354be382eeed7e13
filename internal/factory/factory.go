package factory

import (
	"DexLedger/internal/admin"
	"DexLedger/internal/amm"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/fees"
	"DexLedger/internal/handshake"
	"DexLedger/internal/store"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeyConfig       = "factory_config"
	keyPairCount    = "amm_pair_count"
	prefixPairIndex = "amm_pair:"
	prefixPairAddr  = "amm_pair_address:"
)

func pairIndexKey(n uint64) string       { return fmt.Sprintf("%s%020d", prefixPairIndex, n) }
func pairAddrKey(p amm.TokenPair) string { return prefixPairAddr + p.Key() }

var (
	ErrNotConfigured = fmt.Errorf("factory: config missing: %w", dexerr.ErrCorruptRecord)
	ErrPairExists    = fmt.Errorf("factory: pair already registered: %w", dexerr.ErrConflict)
	ErrPairNotFound  = fmt.Errorf("factory: pair not registered: %w", dexerr.ErrNotFound)
)

// CodeInfo identifies the contract code new pairs are instantiated from
type CodeInfo struct {
	ID       uint64 `json:"id" yaml:"id"`
	CodeHash string `json:"code_hash" yaml:"code_hash"`
}

type Config struct {
	PairContract CodeInfo      `json:"pair_contract"`
	AMMSettings  fees.Schedule `json:"amm_settings"`
}

func (c *Config) Validate() error {
	if c.PairContract.CodeHash == "" {
		return fmt.Errorf("factory: pair code hash is required: %w", dexerr.ErrInvalidInput)
	}
	return c.AMMSettings.Validate()
}

// Pagination selects Limit pairs after the first Start
type Pagination struct {
	Start uint64 `json:"start"`
	Limit uint8  `json:"limit"`
}

// Instantiate is the outbound request to create a pair contract. The new
// contract must call back RegisterPair with Signature.
type Instantiate struct {
	CodeID   uint64
	CodeHash string
	Label    string
	Msg      []byte // JSON init message for the pair contract
}

type pairInitMsg struct {
	Pair     amm.TokenPair `json:"pair"`
	Factory  string        `json:"factory_info"`
	Callback pairCallback  `json:"callback"`
}

type pairCallback struct {
	Contract  string `json:"contract"`
	Signature []byte `json:"signature"`
}

// Registry creates and tracks AMM pairs
type Registry struct {
	hs *handshake.Handshake
}

func NewRegistry(hs *handshake.Handshake) *Registry {
	return &Registry{hs: hs}
}

// === Config ===

func (r *Registry) Config(rd store.Reader) (*Config, error) {
	var cfg Config
	found, err := store.LoadJSON(rd, KeyConfig, &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotConfigured
	}
	return &cfg, nil
}

func (r *Registry) SaveConfig(w store.Writer, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return store.SaveJSON(w, KeyConfig, cfg)
}

// SetConfig replaces the fields that are non-nil. Admin only.
func (r *Registry) SetConfig(rw store.ReadWriter, caller string, pairContract *CodeInfo, settings *fees.Schedule) (*Config, error) {
	if err := admin.Require(rw, caller); err != nil {
		return nil, err
	}
	cfg, err := r.Config(rw)
	if err != nil {
		return nil, err
	}
	if pairContract != nil {
		cfg.PairContract = *pairContract
	}
	if settings != nil {
		cfg.AMMSettings = *settings
	}
	return cfg, r.SaveConfig(rw, cfg)
}

// === Pair creation handshake ===

// CreatePair begins the handshake and returns the instantiate request
// carrying its secret.
func (r *Registry) CreatePair(rw store.ReadWriter, factoryAddr, sender string, height, now uint64, pair amm.TokenPair) (*Instantiate, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	cfg, err := r.Config(rw)
	if err != nil {
		return nil, err
	}
	if _, err := r.AddressForPair(rw, pair); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPairExists, pair)
	} else if !errors.Is(err, ErrPairNotFound) {
		return nil, err
	}

	secret, err := r.hs.Begin(rw, sender, height, now)
	if err != nil {
		return nil, err
	}

	msg, err := json.Marshal(pairInitMsg{
		Pair:     pair,
		Factory:  factoryAddr,
		Callback: pairCallback{Contract: factoryAddr, Signature: secret},
	})
	if err != nil {
		return nil, fmt.Errorf("encode pair init msg: %w", err)
	}

	return &Instantiate{
		CodeID:   cfg.PairContract.ID,
		CodeHash: cfg.PairContract.CodeHash,
		Label:    fmt.Sprintf("amm-pair-%s-%d", pair, height),
		Msg:      msg,
	}, nil
}

// RegisterPair completes the handshake. The caller is the newly created
// pair contract; its address becomes the pool address.
func (r *Registry) RegisterPair(rw store.ReadWriter, sender string, pair amm.TokenPair, signature []byte, now uint64) (*amm.Pair, error) {
	if err := r.hs.Complete(rw, signature, now); err != nil {
		return nil, err
	}
	cfg, err := r.Config(rw)
	if err != nil {
		return nil, err
	}
	p := amm.Pair{Pair: pair, Address: sender}
	if err := r.savePair(rw, p, cfg.AMMSettings); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddPairs registers pairs created outside the handshake. Admin only.
func (r *Registry) AddPairs(rw store.ReadWriter, caller string, pairs []amm.Pair) error {
	if err := admin.Require(rw, caller); err != nil {
		return err
	}
	cfg, err := r.Config(rw)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := r.savePair(rw, p, cfg.AMMSettings); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) savePair(rw store.ReadWriter, p amm.Pair, settings fees.Schedule) error {
	if err := p.Pair.Validate(); err != nil {
		return err
	}
	if _, err := r.AddressForPair(rw, p.Pair); err == nil {
		return fmt.Errorf("%w: %s", ErrPairExists, p.Pair)
	} else if !errors.Is(err, ErrPairNotFound) {
		return err
	}

	if _, err := amm.CreatePool(rw, p.Address, p.Pair, settings); err != nil {
		return err
	}

	count, err := r.PairCount(rw)
	if err != nil {
		return err
	}
	count++
	if err := store.SaveJSON(rw, pairIndexKey(count), p); err != nil {
		return err
	}
	if err := store.SaveJSON(rw, pairAddrKey(p.Pair), p.Address); err != nil {
		return err
	}
	return store.SaveJSON(rw, keyPairCount, count)
}

// === Queries ===

func (r *Registry) PairCount(rd store.Reader) (uint64, error) {
	var n uint64
	if _, err := store.LoadJSON(rd, keyPairCount, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListPairs returns registered pairs in registration order
func (r *Registry) ListPairs(rd store.Reader, page Pagination) ([]amm.Pair, error) {
	count, err := r.PairCount(rd)
	if err != nil {
		return nil, err
	}
	var out []amm.Pair
	for n := page.Start + 1; n <= count && len(out) < int(page.Limit); n++ {
		var p amm.Pair
		found, err := store.LoadJSON(rd, pairIndexKey(n), &p)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("pair %d missing: %w", n, dexerr.ErrCorruptRecord)
		}
		out = append(out, p)
	}
	return out, nil
}

// AddressForPair looks a pair up in either token order
func (r *Registry) AddressForPair(rd store.Reader, pair amm.TokenPair) (string, error) {
	var addr string
	found, err := store.LoadJSON(rd, pairAddrKey(pair), &addr)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrPairNotFound, pair)
	}
	return addr, nil
}
