package persistence_test

import (
	"DexLedger/internal/action"
	"DexLedger/internal/core"
	"DexLedger/internal/ledger"
	"DexLedger/internal/persistence"
	"DexLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *action.Result {
	res := &action.Result{}
	res.AddTransfer("sscrt", "secret1dao", uint256.NewInt(2))
	res.AddInstantiate(action.Instantiate{CodeID: 7, CodeHash: "pairhash", Label: "amm-pair", Msg: []byte(`{}`)})
	res.Attr("action", "swap")
	res.Attr("lp_fee", uint256.NewInt(3))
	return res
}

func sampleReceipt(t *testing.T, seq uint64, key string) core.Receipt {
	t.Helper()
	batch, err := ledger.NewJournalGenerator().GenerateUnstake(
		"Unstake:"+key, seq, 1_700_000_000,
		"secret1alice", "lp", "sshd",
		uint256.NewInt(1000), uint256.NewInt(50),
	)
	require.NoError(t, err)
	return core.Receipt{
		ReceiptID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)),
		Sequence:       seq,
		ActionType:     action.TypeUnstake,
		IdempotencyKey: key,
		Env:            action.Env{Sender: "secret1alice", BlockHeight: 10, BlockTime: 1_700_000_000},
		Result:         sampleResult(),
		Batch:          batch,
		PrevHash:       core.GenesisHash(),
		AppliedAt:      time.Now(),
	}
}

func TestMarshalResult_Golden(t *testing.T) {
	got, err := persistence.MarshalResult(sampleResult())
	require.NoError(t, err)
	testutil.AssertGolden(t, "result.golden.json", got)
}

func TestFromReceipt(t *testing.T) {
	out, err := persistence.FromReceipt(sampleReceipt(t, 3, "u-1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(3), out.Action.Sequence)
	assert.Equal(t, "Unstake", out.Action.ActionType)
	assert.Len(t, out.Action.PrevHash, 32)

	require.Len(t, out.Journals, 2)
	assert.Equal(t, "principal_return", out.Journals[0].JournalType)
	assert.Equal(t, "user:secret1alice:wallet:lp", out.Journals[0].DebitAccount)
	assert.Equal(t, "system:staking:stake_vault:lp", out.Journals[0].CreditAccount)
	assert.Equal(t, "1000", out.Journals[0].Amount)
	assert.Equal(t, "sshd", out.Journals[1].Token)
}

func TestFromReceipt_NoBatch(t *testing.T) {
	r := sampleReceipt(t, 1, "k")
	r.Batch = nil
	out, err := persistence.FromReceipt(r)
	require.NoError(t, err)
	assert.Empty(t, out.Journals)
}

// ===========================================================================
// Postgres
// ===========================================================================

func TestPersistenceWorker_WritesAndDedups(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	in := make(chan core.Receipt, 4)
	w := persistence.NewPersistenceWorker(db, in, 2, 50*time.Millisecond, nil, zerolog.Nop())

	in <- sampleReceipt(t, 1, "u-1")
	in <- sampleReceipt(t, 2, "u-2")
	close(in)
	require.NoError(t, w.Run(context.Background()))

	last, err := w.Writer().LastSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	var journals int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM event_log.journal`).Scan(&journals))
	assert.Equal(t, 4, journals)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("Unstake", "u-1")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = checker.IsDuplicate("Unstake", "u-9")
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := w.Writer().RecentKeys(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unstake:u-2", "Unstake:u-1"}, keys)
}

func TestMigrator_Status(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, s.Filename)
	}
}
