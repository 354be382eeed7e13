package admin_test

import (
	"DexLedger/internal/admin"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/store"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminGuard(t *testing.T) {
	tx := store.Begin(store.NewMemoryBackend())

	require.ErrorIs(t, admin.Require(tx, "anyone"), dexerr.ErrUnauthorized)

	require.NoError(t, admin.Init(tx, "alice"))
	require.NoError(t, admin.Require(tx, "alice"))
	require.ErrorIs(t, admin.Require(tx, "bob"), admin.ErrNotAdmin)

	require.ErrorIs(t, admin.SetAdmin(tx, "bob", "bob"), dexerr.ErrUnauthorized)
	require.NoError(t, admin.SetAdmin(tx, "alice", "bob"))

	addr, err := admin.Load(tx)
	require.NoError(t, err)
	assert.Equal(t, "bob", addr)
	require.ErrorIs(t, admin.Require(tx, "alice"), dexerr.ErrUnauthorized)

	require.ErrorIs(t, admin.SetAdmin(tx, "bob", ""), dexerr.ErrInvalidInput)
}
