package core_test

import (
	"DexLedger/internal/action"
	"DexLedger/internal/amm"
	"DexLedger/internal/core"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/factory"
	"DexLedger/internal/fees"
	"DexLedger/internal/handshake"
	"DexLedger/internal/ledger"
	"DexLedger/internal/staking"
	"DexLedger/internal/store"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

const (
	lpToken     = "secret1lptoken"
	rewardToken = "secret1sshd"
	factoryAddr = "secret1factory"
	t0          = uint64(1_700_000_000)
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func genesis() core.Genesis {
	return core.Genesis{
		Admin: "secret1admin",
		Staking: &staking.Config{
			DailyRewardAmount: u(864_000_000),
			RewardToken:       rewardToken,
			LPToken:           lpToken,
			Formula:           staking.FormulaProRata,
		},
		Factory: &factory.Config{
			PairContract: factory.CodeInfo{ID: 7, CodeHash: "pairhash"},
			AMMSettings: fees.Schedule{
				LPFee:                fees.Fee{Num: 3, Denom: 1000},
				ProtocolFee:          fees.Fee{Num: 2, Denom: 1000},
				ProtocolFeeRecipient: "secret1dao",
			},
		},
	}
}

// newTestEngine creates an initialized Engine over backend with buffered channels.
func newTestEngine(t *testing.T, backend store.Backend) (*core.Engine, chan core.Receipt) {
	t.Helper()
	persistChan := make(chan core.Receipt, 1024)
	projChan := make(chan core.Receipt, 1024)
	e, err := core.NewEngine(core.Config{
		Backend:        backend,
		DedupCapacity:  1024,
		Handshake:      handshake.Options{TTL: 600},
		Logger:         zerolog.Nop(),
		PersistChan:    persistChan,
		ProjectionChan: projChan,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Initialize(genesis()); err != nil && !errors.Is(err, core.ErrInitialized) {
		t.Fatalf("Initialize failed: %v", err)
	}
	return e, persistChan
}

func env(sender string, height, ts uint64) action.Env {
	return action.Env{Sender: sender, Contract: factoryAddr, BlockHeight: height, BlockTime: ts}
}

func stake(key, staker string, amount, height, ts uint64) *action.Stake {
	return &action.Stake{
		Meta:   action.Meta{Key: key, Env: env(lpToken, height, ts)},
		From:   staker,
		Amount: u(amount),
	}
}

func mustExecute(t *testing.T, e *core.Engine, a action.Action) *action.Result {
	t.Helper()
	res, err := e.Execute(a)
	if err != nil {
		t.Fatalf("Execute %s failed: %v", a.ActionType(), err)
	}
	return res
}

func drainReceipts(ch chan core.Receipt) []core.Receipt {
	var out []core.Receipt
	for {
		select {
		case r := <-ch:
			out = append(out, r)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: Staking actions
// ============================================================================

func TestStake_ReceiveFromLPToken(t *testing.T) {
	e, persist := newTestEngine(t, store.NewMemoryBackend())

	res := mustExecute(t, e, stake("stake-1", "alice", 1000, 1, t0))

	if len(res.Messages) != 0 {
		t.Errorf("stake emits no messages, got %d", len(res.Messages))
	}
	if v, _ := res.Get("amount"); v != "1000" {
		t.Errorf("amount attribute: got %q", v)
	}

	receipts := drainReceipts(persist)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}
	r := receipts[0]
	if r.Sequence != 1 || e.Sequence() != 1 {
		t.Errorf("sequence: receipt %d, engine %d", r.Sequence, e.Sequence())
	}
	if r.Batch == nil || len(r.Batch.Journals) != 1 || r.Batch.Journals[0].JournalType != ledger.JournalTypeStakeDeposit {
		t.Error("stake should journal one deposit into the vault")
	}
	if r.Accrual == nil {
		t.Error("stake runs an accrual pass")
	}
}

func TestStake_WrongTokenUnauthorized(t *testing.T) {
	e, persist := newTestEngine(t, store.NewMemoryBackend())

	a := stake("stake-1", "alice", 1000, 1, t0)
	a.Env.Sender = "secret1othertoken"

	_, err := e.Execute(a)
	if !errors.Is(err, dexerr.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if e.Sequence() != 0 {
		t.Error("rejected action must not advance the sequence")
	}
	if len(drainReceipts(persist)) != 0 {
		t.Error("rejected action must not emit a receipt")
	}
}

func TestUnstake_EmitsPrincipalAndReward(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())

	mustExecute(t, e, stake("stake-1", "alice", 1000, 1, t0))
	res := mustExecute(t, e, &action.Unstake{
		Meta: action.Meta{Key: "unstake-1", Env: env("alice", 2, t0+86_400)},
	})

	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(res.Messages))
	}
	principal := res.Messages[0].Transfer
	reward := res.Messages[1].Transfer
	if principal == nil || principal.Token != lpToken || principal.Recipient != "alice" || principal.Amount.Uint64() != 1000 {
		t.Errorf("principal transfer wrong: %+v", principal)
	}
	if reward == nil || reward.Token != rewardToken || reward.Amount.Uint64() != 864_000_000 {
		t.Errorf("reward transfer wrong: %+v", reward)
	}
}

func TestClaimRewards_NotAStaker(t *testing.T) {
	backend := store.NewMemoryBackend()
	e, _ := newTestEngine(t, backend)
	before := backend.Len()

	_, err := e.Execute(&action.ClaimRewards{
		Meta: action.Meta{Key: "claim-1", Env: env("mallory", 1, t0)},
	})
	if !errors.Is(err, dexerr.ErrNotAStaker) {
		t.Fatalf("expected NotAStaker, got %v", err)
	}
	if backend.Len() != before {
		t.Error("failed action must not commit any write")
	}
}

// ============================================================================
// Test: Idempotency and ordering
// ============================================================================

func TestIdempotency_DuplicateRejected(t *testing.T) {
	e, persist := newTestEngine(t, store.NewMemoryBackend())

	mustExecute(t, e, stake("stake-1", "alice", 1000, 1, t0))
	_, err := e.Execute(stake("stake-1", "alice", 1000, 1, t0))
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(drainReceipts(persist)) != 1 {
		t.Error("duplicate must not emit a second receipt")
	}
}

func TestIdempotency_SurvivesRestart(t *testing.T) {
	backend := store.NewMemoryBackend()
	e1, _ := newTestEngine(t, backend)
	mustExecute(t, e1, stake("stake-1", "alice", 1000, 1, t0))
	hash := e1.StateHash()

	e2, _ := newTestEngine(t, backend)
	if e2.Sequence() != 1 || e2.StateHash() != hash {
		t.Fatal("engine head should be restored from the store")
	}
	_, err := e2.Execute(stake("stake-1", "alice", 1000, 1, t0))
	if !errors.Is(err, core.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate after restart, got %v", err)
	}
}

func TestBlockClock_StaleRejected(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())

	mustExecute(t, e, stake("stake-1", "alice", 1000, 5, t0))

	_, err := e.Execute(stake("stake-2", "bob", 1000, 4, t0))
	if !errors.Is(err, core.ErrStaleBlock) {
		t.Errorf("lower height: expected ErrStaleBlock, got %v", err)
	}
	_, err = e.Execute(stake("stake-3", "bob", 1000, 5, t0-1))
	if !errors.Is(err, core.ErrStaleBlock) {
		t.Errorf("earlier time: expected ErrStaleBlock, got %v", err)
	}

	// same block is fine
	mustExecute(t, e, stake("stake-4", "bob", 1000, 5, t0))
}

func TestMissingKey_Rejected(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())

	_, err := e.Execute(stake("", "alice", 1000, 1, t0))
	if !errors.Is(err, dexerr.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

// ============================================================================
// Test: State hash chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() []core.Receipt {
		e, persist := newTestEngine(t, store.NewMemoryBackend())
		mustExecute(t, e, stake("stake-1", "alice", 300, 1, t0))
		mustExecute(t, e, stake("stake-2", "bob", 700, 1, t0))
		mustExecute(t, e, &action.ClaimRewards{Meta: action.Meta{Key: "claim-1", Env: env("alice", 2, t0+86_400)}})
		return drainReceipts(persist)
	}

	a, b := run(), run()
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("expected 3 receipts per run, got %d and %d", len(a), len(b))
	}
	if a[0].PrevHash != core.GenesisHash() {
		t.Error("first receipt should chain from genesis")
	}
	for i := range a {
		if a[i].StateHash != b[i].StateHash {
			t.Errorf("receipt %d: hash differs across identical runs", i)
		}
		if i > 0 && a[i].PrevHash != a[i-1].StateHash {
			t.Errorf("receipt %d: chain broken", i)
		}
	}
	if a[0].ReceiptID != b[0].ReceiptID {
		t.Error("receipt ids derive from the action key")
	}
}

// ============================================================================
// Test: Pair creation and swaps
// ============================================================================

func createAndRegister(t *testing.T, e *core.Engine, pair amm.TokenPair, poolAddr string) {
	t.Helper()
	res := mustExecute(t, e, &action.CreatePair{
		Meta: action.Meta{Key: "create-" + poolAddr, Env: env("secret1bob", 10, t0)},
		Pair: pair,
	})
	if len(res.Messages) != 1 || res.Messages[0].Instantiate == nil {
		t.Fatalf("create pair should emit one instantiate, got %+v", res.Messages)
	}
	inst := res.Messages[0].Instantiate
	if inst.CodeID != 7 || inst.CodeHash != "pairhash" {
		t.Errorf("instantiate should use the configured code: %+v", inst)
	}

	var init struct {
		Callback struct {
			Signature []byte `json:"signature"`
		} `json:"callback"`
	}
	if err := json.Unmarshal(inst.Msg, &init); err != nil {
		t.Fatalf("decode init msg: %v", err)
	}

	mustExecute(t, e, &action.RegisterPair{
		Meta:      action.Meta{Key: "register-" + poolAddr, Env: env(poolAddr, 11, t0+6)},
		Pair:      pair,
		Signature: init.Callback.Signature,
	})
}

func TestCreatePair_HandshakeSingleUse(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())
	pair := amm.NewTokenPair("sscrt", "sshd")

	createAndRegister(t, e, pair, "secret1pool")

	err := e.View(func(r store.Reader) error {
		addr, err := e.Registry().AddressForPair(r, pair)
		if err != nil {
			return err
		}
		if addr != "secret1pool" {
			t.Errorf("pair address: got %s", addr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	_, err = e.Execute(&action.RegisterPair{
		Meta:      action.Meta{Key: "register-again", Env: env("secret1evil", 12, t0+7)},
		Pair:      amm.NewTokenPair("a", "b"),
		Signature: []byte("anything"),
	})
	if !errors.Is(err, handshake.ErrNoPending) {
		t.Errorf("consumed handshake should reject, got %v", err)
	}
}

func TestSwap_SettlesThroughLedger(t *testing.T) {
	e, persist := newTestEngine(t, store.NewMemoryBackend())
	createAndRegister(t, e, amm.NewTokenPair("sscrt", "sshd"), "secret1pool")

	mustExecute(t, e, &action.AddLiquidity{
		Meta:    action.Meta{Key: "liq-1", Env: env("secret1lp", 12, t0+10)},
		Pool:    "secret1pool",
		Amount0: u(1_000_000),
		Amount1: u(2_000_000),
	})
	res := mustExecute(t, e, &action.Swap{
		Meta:        action.Meta{Key: "swap-1", Env: env("secret1trader", 13, t0+20)},
		Pool:        "secret1pool",
		OfferToken:  "sscrt",
		OfferAmount: u(1000),
	})

	if len(res.Messages) != 2 {
		t.Fatalf("expected fee payout and return, got %d messages", len(res.Messages))
	}
	fee, ret := res.Messages[0].Transfer, res.Messages[1].Transfer
	if fee.Recipient != "secret1dao" || fee.Token != "sscrt" || fee.Amount.Uint64() != 2 {
		t.Errorf("protocol fee transfer wrong: %+v", fee)
	}
	if ret.Recipient != "secret1trader" || ret.Token != "sshd" || ret.Amount.Uint64() != 1988 {
		t.Errorf("return transfer wrong: %+v", ret)
	}
	if v, _ := res.Get("lp_fee"); v != "3" {
		t.Errorf("lp_fee attribute: got %q", v)
	}

	// Replay the journals: the ledger stays zero-sum and matches the pool
	bt := ledger.NewBalanceTracker()
	for _, r := range drainReceipts(persist) {
		if r.Batch != nil {
			if err := bt.ApplyBatch(r.Batch); err != nil {
				t.Fatalf("ApplyBatch failed: %v", err)
			}
		}
	}
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Error(err)
	}
	if got := bt.GetPoolReserve("secret1pool", "sscrt").String(); got != "1000998" {
		t.Errorf("journaled reserve: got %s", got)
	}
}

func TestAddPairs_AdminOnly(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())
	pairs := []amm.Pair{{Pair: amm.NewTokenPair("a", "b"), Address: "secret1ab"}}

	_, err := e.Execute(&action.AddPairs{
		Meta:  action.Meta{Key: "add-1", Env: env("secret1bob", 1, t0)},
		Pairs: pairs,
	})
	if !errors.Is(err, dexerr.ErrUnauthorized) {
		t.Fatalf("non-admin add_pairs: expected Unauthorized, got %v", err)
	}

	mustExecute(t, e, &action.AddPairs{
		Meta:  action.Meta{Key: "add-2", Env: env("secret1admin", 1, t0)},
		Pairs: pairs,
	})
}

// ============================================================================
// Test: Channels
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.Receipt, 16)
	projChan := make(chan core.Receipt) // unbuffered, never read
	e, err := core.NewEngine(core.Config{
		Backend:        store.NewMemoryBackend(),
		Logger:         zerolog.Nop(),
		PersistChan:    persistChan,
		ProjectionChan: projChan,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Initialize(genesis()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for i, key := range []string{"s1", "s2", "s3"} {
		mustExecute(t, e, stake(key, "alice", 10, uint64(i+1), t0))
	}
	if len(drainReceipts(persistChan)) != 3 {
		t.Error("persist channel must receive every receipt")
	}
}

func TestPersistChannel_ReleasedOnDone(t *testing.T) {
	persistChan := make(chan core.Receipt, 1) // never read
	done := make(chan struct{})
	e, err := core.NewEngine(core.Config{
		Backend:     store.NewMemoryBackend(),
		Logger:      zerolog.Nop(),
		PersistChan: persistChan,
		Done:        done,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Initialize(genesis()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	mustExecute(t, e, stake("s1", "alice", 10, 1, t0))

	finished := make(chan error, 1)
	go func() {
		_, err := e.Execute(stake("s2", "alice", 10, 2, t0))
		finished <- err
	}()
	close(done)

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute stayed blocked on a full persist channel after done")
	}
	if e.Sequence() != 2 {
		t.Errorf("action should still commit, sequence %d", e.Sequence())
	}
}

// ============================================================================
// Test: Outbox
// ============================================================================

func TestOutbox_HeldUntilCompleted(t *testing.T) {
	backend := store.NewMemoryBackend()
	e, _ := newTestEngine(t, backend)

	mustExecute(t, e, stake("stake-1", "alice", 1000, 1, t0))
	if _, found, err := e.OutboxFor("Stake", "stake-1"); err != nil || found {
		t.Fatalf("stake emits nothing, outbox found=%v err=%v", found, err)
	}
	res := mustExecute(t, e, &action.Unstake{
		Meta: action.Meta{Key: "unstake-1", Env: env("alice", 2, t0+86_400)},
	})

	entry, found, err := e.OutboxFor("Unstake", "unstake-1")
	if err != nil || !found {
		t.Fatalf("outbox entry missing: found=%v err=%v", found, err)
	}
	if entry.Sequence != 2 || len(entry.Messages) != len(res.Messages) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	for i, m := range entry.Messages {
		want := res.Messages[i].Transfer
		if m.Transfer == nil || m.Transfer.Recipient != want.Recipient || !m.Transfer.Amount.Eq(want.Amount) {
			t.Errorf("message %d: got %+v, want %+v", i, m.Transfer, want)
		}
	}

	// survives restart
	e2, _ := newTestEngine(t, backend)
	pending, err := e2.PendingOutbox()
	if err != nil || len(pending) != 1 || pending[0].IdempotencyKey != "unstake-1" {
		t.Fatalf("pending after restart: %+v, %v", pending, err)
	}

	if err := e2.CompleteOutbox(entry.Sequence); err != nil {
		t.Fatalf("CompleteOutbox failed: %v", err)
	}
	if err := e2.CompleteOutbox(entry.Sequence); err != nil {
		t.Errorf("completing twice should be a no-op: %v", err)
	}
	pending, _ = e2.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("outbox should be empty, got %d", len(pending))
	}
	if _, found, _ := e2.OutboxFor("Unstake", "unstake-1"); found {
		t.Error("completed entry still reported")
	}
}

func TestInitialize_Twice(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemoryBackend())
	if err := e.Initialize(genesis()); !errors.Is(err, core.ErrInitialized) {
		t.Errorf("expected ErrInitialized, got %v", err)
	}
}
