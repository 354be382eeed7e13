// Package dexerr defines the error kinds every action can fail with.
// Domain packages wrap these sentinels so callers can classify any error
// with errors.Is or Kind.
package dexerr

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotAStaker    = errors.New("not a staker")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrOverflow      = errors.New("arithmetic overflow")
	ErrUnderflow     = errors.New("arithmetic underflow")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrCorruptRecord = errors.New("corrupt record")
)

// Kind names the taxonomy bucket of err, or "Internal" if err does not wrap
// one of the sentinels above.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotAStaker):
		return "NotAStaker"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrOverflow):
		return "ArithmeticOverflow"
	case errors.Is(err, ErrUnderflow):
		return "ArithmeticUnderflow"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrCorruptRecord):
		return "CorruptRecord"
	default:
		return "Internal"
	}
}
