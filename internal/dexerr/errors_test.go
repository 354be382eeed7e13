package dexerr_test

import (
	"DexLedger/internal/dexerr"
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{dexerr.ErrUnauthorized, "Unauthorized"},
		{fmt.Errorf("claim: %w", dexerr.ErrNotAStaker), "NotAStaker"},
		{fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", dexerr.ErrOverflow)), "ArithmeticOverflow"},
		{pkgerrors.Wrap(dexerr.ErrCorruptRecord, "leveldb get"), "CorruptRecord"},
		{errors.New("boom"), "Internal"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, dexerr.Kind(tc.err))
	}
}
