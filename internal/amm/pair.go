package amm

import (
	"DexLedger/internal/dexerr"
	"fmt"
)

var (
	ErrInvalidPair  = fmt.Errorf("amm: invalid token pair: %w", dexerr.ErrInvalidInput)
	ErrPoolNotFound = fmt.Errorf("amm: pool not found: %w", dexerr.ErrNotFound)
	ErrPoolExists   = fmt.Errorf("amm: pool already exists: %w", dexerr.ErrConflict)
	ErrUnknownToken = fmt.Errorf("amm: token not in pair: %w", dexerr.ErrInvalidInput)
)

// TokenPair is an unordered pair of token identifiers. (a, b) and (b, a)
// name the same pair; Canonical gives the stored order.
type TokenPair struct {
	Token0 string `json:"token_0"`
	Token1 string `json:"token_1"`
}

func NewTokenPair(a, b string) TokenPair {
	return TokenPair{Token0: a, Token1: b}
}

func (p TokenPair) Validate() error {
	if p.Token0 == "" || p.Token1 == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidPair)
	}
	if p.Token0 == p.Token1 {
		return fmt.Errorf("%w: %s paired with itself", ErrInvalidPair, p.Token0)
	}
	return nil
}

// Canonical orders the tokens lexically
func (p TokenPair) Canonical() TokenPair {
	if p.Token1 < p.Token0 {
		return TokenPair{Token0: p.Token1, Token1: p.Token0}
	}
	return p
}

// Equal ignores token order
func (p TokenPair) Equal(o TokenPair) bool {
	return p.Canonical() == o.Canonical()
}

// Key is the order-independent storage key of the pair
func (p TokenPair) Key() string {
	c := p.Canonical()
	return c.Token0 + "/" + c.Token1
}

func (p TokenPair) Contains(token string) bool {
	return p.Token0 == token || p.Token1 == token
}

// Other returns the counter token of token in the pair
func (p TokenPair) Other(token string) (string, error) {
	switch token {
	case p.Token0:
		return p.Token1, nil
	case p.Token1:
		return p.Token0, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownToken, token)
}

func (p TokenPair) String() string {
	return p.Token0 + "-" + p.Token1
}

// Pair binds a token pair to the address of its pool contract
type Pair struct {
	Pair    TokenPair `json:"pair"`
	Address string    `json:"address"`
}
