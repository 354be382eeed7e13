package admin

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/store"
	"fmt"
)

const KeyAdmin = "contract_pair_admin"

var (
	ErrNotAdmin   = fmt.Errorf("admin: caller is not admin: %w", dexerr.ErrUnauthorized)
	ErrNoAdmin    = fmt.Errorf("admin: no admin configured: %w", dexerr.ErrUnauthorized)
	ErrEmptyAdmin = fmt.Errorf("admin: empty address: %w", dexerr.ErrInvalidInput)
)

// Load returns the stored admin address, "" if none
func Load(r store.Reader) (string, error) {
	var addr string
	if _, err := store.LoadJSON(r, KeyAdmin, &addr); err != nil {
		return "", err
	}
	return addr, nil
}

// Init stores the first admin; later changes go through SetAdmin
func Init(w store.Writer, addr string) error {
	if addr == "" {
		return ErrEmptyAdmin
	}
	return store.SaveJSON(w, KeyAdmin, addr)
}

// Require fails unless caller is the admin
func Require(r store.Reader, caller string) error {
	addr, err := Load(r)
	if err != nil {
		return err
	}
	if addr == "" {
		return ErrNoAdmin
	}
	if caller != addr {
		return ErrNotAdmin
	}
	return nil
}

// SetAdmin hands the role to next; only the current admin may call it
func SetAdmin(rw store.ReadWriter, caller, next string) error {
	if err := Require(rw, caller); err != nil {
		return err
	}
	return Init(rw, next)
}
