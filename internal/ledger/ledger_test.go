package ledger_test

import (
	"DexLedger/internal/ledger"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey("secret1alice", "sscrt")

	path := key.AccountPath()
	expected := "user:secret1alice:wallet:sscrt"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
	if key.IsContractHeld() {
		t.Error("user wallet is not contract-held")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SystemStaking, ledger.SubTypeSystemRewardPool, "sshd")

	path := key.AccountPath()
	if path != "system:staking:reward_pool:sshd" {
		t.Errorf("got %q, want %q", path, "system:staking:reward_pool:sshd")
	}
}

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.NewPoolAccountKey("secret1pair", "sscrt")

	path := key.AccountPath()
	if path != "pool:secret1pair:reserve:sscrt" {
		t.Errorf("got %q, want %q", path, "pool:secret1pair:reserve:sscrt")
	}
	if !key.IsContractHeld() {
		t.Error("pool reserve is contract-held")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateStake_SingleLeg(t *testing.T) {
	jg := ledger.NewJournalGenerator()

	batch, err := jg.GenerateStake("stake-1", 7, 1000, "alice", "lp", u(500))
	if err != nil {
		t.Fatalf("GenerateStake failed: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}

	j := batch.Journals[0]
	if j.JournalType != ledger.JournalTypeStakeDeposit {
		t.Errorf("type: got %s", j.JournalType)
	}
	if j.Sequence != 7 || j.Timestamp != 1000 {
		t.Errorf("sequence/timestamp not carried: %d/%d", j.Sequence, j.Timestamp)
	}
	if j.IsOutbound() {
		t.Error("stake deposit is inbound")
	}
}

func TestGenerate_DeterministicIDs(t *testing.T) {
	jg := ledger.NewJournalGenerator()

	a, _ := jg.GenerateUnstake("unstake-1", 1, 1, "alice", "lp", "reward", u(10), u(20))
	b, _ := jg.GenerateUnstake("unstake-1", 1, 1, "alice", "lp", "reward", u(10), u(20))

	if a.BatchID != b.BatchID {
		t.Error("batch id should derive from the event ref")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d id differs across replays", i)
		}
	}
	if a.Journals[0].JournalID == a.Journals[1].JournalID {
		t.Error("legs must have distinct ids")
	}
}

func TestGenerateUnstake_SkipsZeroReward(t *testing.T) {
	jg := ledger.NewJournalGenerator()

	batch, err := jg.GenerateUnstake("unstake-2", 1, 1, "alice", "lp", "reward", u(10), u(0))
	if err != nil {
		t.Fatalf("GenerateUnstake failed: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Fatalf("expected only the principal leg, got %d", len(batch.Journals))
	}
	if len(batch.Outbound()) != 1 {
		t.Error("principal return must be outbound")
	}
}

func TestGenerateClaim_ZeroRewardIsNil(t *testing.T) {
	jg := ledger.NewJournalGenerator()

	batch, err := jg.GenerateClaim("claim-1", 1, 1, "alice", "reward", u(0))
	if err != nil {
		t.Fatalf("GenerateClaim failed: %v", err)
	}
	if batch != nil {
		t.Error("a zero claim produces no batch")
	}
}

func TestGenerateSwap_ReservesMatchPool(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	bt := ledger.NewBalanceTracker()

	deposit, err := jg.GenerateAddLiquidity("liq-1", 1, 1, "lp", "pool", "a", "b", u(1_000_000), u(2_000_000))
	if err != nil {
		t.Fatalf("GenerateAddLiquidity failed: %v", err)
	}
	if err := bt.ApplyBatch(deposit); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	swap, err := jg.GenerateSwap("swap-1", 2, 2, ledger.SwapLegs{
		Trader:       "trader",
		Recipient:    "trader",
		PoolAddr:     "pool",
		OfferToken:   "a",
		AskToken:     "b",
		Net:          u(995),
		LPFee:        u(3),
		ProtocolFee:  u(2),
		FeeRecipient: "dao",
		Return:       u(1988),
	})
	if err != nil {
		t.Fatalf("GenerateSwap failed: %v", err)
	}
	if err := bt.ApplyBatch(swap); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := bt.GetPoolReserve("pool", "a"); !got.Equal(decimal.NewFromInt(1_000_998)) {
		t.Errorf("reserve a: got %s, want 1000998", got)
	}
	if got := bt.GetPoolReserve("pool", "b"); !got.Equal(decimal.NewFromInt(1_998_012)) {
		t.Errorf("reserve b: got %s, want 1998012", got)
	}

	outbound := swap.Outbound()
	if len(outbound) != 2 {
		t.Fatalf("expected fee payout and return outbound, got %d", len(outbound))
	}
	if outbound[0].JournalType != ledger.JournalTypeProtocolFeePayout || outbound[0].DebitAccount.Entity != "dao" {
		t.Errorf("first outbound leg should pay the protocol fee recipient")
	}
	if outbound[1].Token() != "b" || outbound[1].Amount.Uint64() != 1988 {
		t.Errorf("second outbound leg should return 1988 b")
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should stay zero-sum: %v", err)
	}
	if err := v.ValidateCustodyNonNegative(); err != nil {
		t.Errorf("pool should not be overdrawn: %v", err)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	balance := bt.GetStakeVault("lp")
	if !balance.IsZero() {
		t.Errorf("initial balance should be 0, got %s", balance)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()

	batch, _ := jg.GenerateStake("stake-1", 1, 1, "alice", "lp", u(999))
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = decimal.Zero
	}

	if !bt.GetStakeVault("lp").Equal(decimal.NewFromInt(999)) {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

func TestBalanceTracker_WideAmounts(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator()

	// 2^127, beyond int64
	wide := new(uint256.Int).Lsh(u(1), 127)
	batch, _ := jg.GenerateStake("stake-1", 1, 1, "whale", "lp", wide)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetStakeVault("lp").String() != wide.Dec() {
		t.Errorf("got %s, want %s", bt.GetStakeVault("lp"), wide.Dec())
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey("alice", "lp"),
				CreditAccount: ledger.NewPoolAccountKey("pool", "lp"),
				Amount:        u(0),
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	sameAccount := ledger.NewUserAccountKey("alice", "lp")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				Amount:        u(100),
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_CrossToken_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewUserAccountKey("alice", "a"),
				CreditAccount: ledger.NewPoolAccountKey("pool", "b"),
				Amount:        u(100),
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("cross-token entry should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.NewUserAccountKey("alice", "lp"),
				CreditAccount: ledger.NewPoolAccountKey("pool", "lp"),
				Amount:        u(100),
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger passes
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	jg := ledger.NewJournalGenerator()
	stake, _ := jg.GenerateStake("s", 1, 1, "alice", "lp", u(1_000))
	unstake, _ := jg.GenerateUnstake("u", 2, 2, "alice", "lp", "reward", u(1_000), u(50))
	for _, b := range []*ledger.Batch{stake, unstake} {
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("ApplyBatch failed: %v", err)
		}
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
	if !bt.GetStakeVault("lp").IsZero() {
		t.Error("vault should be empty after full unstake")
	}
}
