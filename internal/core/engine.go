package core

import (
	"DexLedger/internal/action"
	"DexLedger/internal/admin"
	"DexLedger/internal/amm"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/factory"
	"DexLedger/internal/handshake"
	"DexLedger/internal/ledger"
	"DexLedger/internal/observability"
	"DexLedger/internal/staking"
	"DexLedger/internal/store"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicate is returned for an action that was already applied.
	// Redeliveries should be acknowledged, not retried.
	ErrDuplicate      = fmt.Errorf("action already applied: %w", dexerr.ErrConflict)
	ErrMissingKey     = fmt.Errorf("action has no idempotency key: %w", dexerr.ErrInvalidInput)
	ErrUnknownAction  = fmt.Errorf("unknown action: %w", dexerr.ErrInvalidInput)
	ErrNotInitialized = fmt.Errorf("contract not initialized: %w", dexerr.ErrCorruptRecord)
	ErrInitialized    = fmt.Errorf("contract already initialized: %w", dexerr.ErrConflict)
)

var receiptNamespace = uuid.MustParse("0b8f6c4a-2d17-4c3e-8e5b-91a7f3d2c640")

// Receipt is the engine's output for one applied action
type Receipt struct {
	ReceiptID      uuid.UUID
	Sequence       uint64
	ActionType     action.Type
	IdempotencyKey string
	Env            action.Env
	Result         *action.Result
	Batch          *ledger.Batch // nil when no value moved
	Accrual        *staking.Pass // nil for non-staking actions
	Swap           *amm.SwapOutcome
	StateHash      [32]byte
	PrevHash       [32]byte
	AppliedAt      time.Time // wall clock, observability only
}

// Config wires an Engine
type Config struct {
	Backend        store.Backend
	DedupCapacity  int
	Handshake      handshake.Options
	DBChecker      DBIdempotencyChecker // consulted after the processed markers in Backend
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	PersistChan    chan<- Receipt
	ProjectionChan chan<- Receipt
	// Done releases an Execute blocked on a full PersistChan. Nil blocks until read.
	Done <-chan struct{}
}

// Engine is the single-writer action processor. Each action runs inside one
// store transaction: all of its writes commit together or none do, and its
// messages are only released after commit.
type Engine struct {
	execMu  sync.Mutex   // serializes Execute
	stateMu sync.RWMutex // commit vs View

	backend     store.Backend
	sequence    uint64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	clock       *ClockValidator
	staking     *staking.Engine
	registry    *factory.Registry
	journalGen  *ledger.JournalGenerator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- Receipt
	projectionChan chan<- Receipt
	done           <-chan struct{}
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 100_000
	}
	var dbChecker DBIdempotencyChecker = NewStoreIdempotencyChecker(cfg.Backend)
	if cfg.DBChecker != nil {
		dbChecker = AnyChecker{dbChecker, cfg.DBChecker}
	}
	idem, err := NewIdempotencyChecker(cfg.DedupCapacity, dbChecker, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	head, err := loadHead(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("engine: restore head: %w", err)
	}
	hasher := NewStateHasher()
	hasher.Advance(head.Hash)

	e := &Engine{
		backend:        cfg.Backend,
		sequence:       head.Sequence,
		hasher:         hasher,
		idempotency:    idem,
		clock:          NewClockValidator(),
		staking:        staking.NewEngine(staking.NewLedger()),
		registry:       factory.NewRegistry(handshake.New(cfg.Handshake)),
		journalGen:     ledger.NewJournalGenerator(),
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
		done:           cfg.Done,
	}
	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
	return e, nil
}

// Genesis is the instantiation state of the contract
type Genesis struct {
	Admin   string
	Staking *staking.Config
	Factory *factory.Config
}

// Initialize writes the instantiation state. It fails if the contract was
// already initialized.
func (e *Engine) Initialize(g Genesis) error {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	tx := store.Begin(e.backend)
	defer tx.Discard()

	current, err := admin.Load(tx)
	if err != nil {
		return err
	}
	if current != "" {
		return ErrInitialized
	}

	if err := admin.Init(tx, g.Admin); err != nil {
		return err
	}
	if g.Staking != nil {
		if err := e.staking.Ledger().SaveConfig(tx, g.Staking); err != nil {
			return err
		}
	}
	if g.Factory != nil {
		if err := e.registry.SaveConfig(tx, g.Factory); err != nil {
			return err
		}
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	e.logger.Info().Str("admin", g.Admin).Msg("contract initialized")
	return nil
}

// Execute is the main processing pipeline
func (e *Engine) Execute(a action.Action) (*action.Result, error) {
	start := time.Now()
	actionType := a.ActionType().String()
	key := a.IdempotencyKey()
	env := a.Environment()

	if key == "" {
		e.reject(actionType, ErrMissingKey)
		return nil, ErrMissingKey
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	// Step 1: Idempotency check (two-tier)
	dup, err := e.idempotency.IsDuplicate(actionType, key)
	if err != nil {
		e.reject(actionType, err)
		return nil, err
	}
	if dup {
		if e.metrics != nil {
			e.metrics.CoreActionsRejected.WithLabelValues(actionType, "duplicate").Inc()
		}
		return nil, ErrDuplicate
	}

	tx := store.Begin(e.backend)
	defer tx.Discard()

	// Step 2: Block clock
	if field, err := e.clock.Validate(tx, env); err != nil {
		if e.metrics != nil && field != "" {
			e.metrics.StaleActions.WithLabelValues(field).Inc()
		}
		e.reject(actionType, err)
		return nil, err
	}

	// Step 3: Dispatch
	seq := e.sequence + 1
	out, err := e.dispatch(tx, a, seq)
	if err != nil {
		e.reject(actionType, err)
		e.logger.Debug().
			Str("action", actionType).
			Str("key", key).
			Str("sender", env.Sender).
			Str("kind", dexerr.Kind(err)).
			Err(err).
			Msg("action rejected")
		return nil, err
	}

	// Step 4: Outbound transfers are exactly the ledger legs that leave custody
	if out.batch != nil {
		for _, j := range out.batch.Outbound() {
			out.result.AddTransfer(j.Token(), j.DebitAccount.Entity, j.Amount)
		}
	}

	// Step 5: Bookkeeping writes
	if err := e.clock.Advance(tx, env); err != nil {
		return nil, err
	}
	if err := tx.Put(processedKey(actionType, key), uint256.NewInt(seq).Bytes()); err != nil {
		return nil, err
	}
	pending, err := writeOutbox(tx, OutboxEntry{
		Sequence:       seq,
		ActionType:     actionType,
		IdempotencyKey: key,
		Messages:       out.result.Messages,
	})
	if err != nil {
		return nil, err
	}

	// Step 6: State hash over this action's write-set
	hashStart := time.Now()
	stateHash := e.hasher.Next(seq, computeStateDigest(tx.Ops()))
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}
	if err := saveHead(tx, Head{Sequence: seq, Hash: stateHash}); err != nil {
		return nil, err
	}

	// Step 7: Commit
	prevHash := e.hasher.GetPrevHash()
	e.stateMu.Lock()
	err = tx.Commit()
	if err == nil {
		e.sequence = seq
		e.hasher.Advance(stateHash)
	}
	e.stateMu.Unlock()
	if err != nil {
		e.reject(actionType, err)
		return nil, fmt.Errorf("commit action %s/%s: %w", actionType, key, err)
	}
	e.idempotency.MarkProcessed(actionType, key)
	if e.metrics != nil {
		e.metrics.OutboxPending.Set(float64(pending))
	}

	receipt := Receipt{
		ReceiptID:      uuid.NewSHA1(receiptNamespace, []byte(actionType+":"+key)),
		Sequence:       seq,
		ActionType:     a.ActionType(),
		IdempotencyKey: key,
		Env:            env,
		Result:         out.result,
		Batch:          out.batch,
		Accrual:        out.pass,
		Swap:           out.swap,
		StateHash:      stateHash,
		PrevHash:       prevHash,
		AppliedAt:      time.Now(),
	}

	// Step 8: Emit. Persist blocks (backpressure); projections drop on full.
	if e.persistChan != nil {
		select {
		case e.persistChan <- receipt:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			select {
			case e.persistChan <- receipt:
			case <-e.done:
				e.logger.Error().
					Uint64("sequence", seq).
					Str("action", actionType).
					Str("key", key).
					Msg("shutdown before receipt was persisted")
			}
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- receipt:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	e.record(actionType, start, &receipt)
	e.logger.Info().
		Uint64("sequence", seq).
		Str("action", actionType).
		Str("key", key).
		Str("sender", env.Sender).
		Int("messages", len(out.result.Messages)).
		Msg("action applied")

	return out.result, nil
}

// View runs fn against a consistent snapshot of committed state
func (e *Engine) View(fn func(r store.Reader) error) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return fn(e.backend)
}

// Sequence returns the last applied sequence
func (e *Engine) Sequence() uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.sequence
}

// StateHash returns the hash of the last applied action
func (e *Engine) StateHash() [32]byte {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.hasher.GetPrevHash()
}

// Stats are process-local counters surfaced by the head query
type Stats struct {
	StaleByHeight int64
	StaleByTime   int64
	DedupCached   int
}

func (e *Engine) Stats() Stats {
	byHeight, byTime := e.clock.Rejections()
	return Stats{StaleByHeight: byHeight, StaleByTime: byTime, DedupCached: e.idempotency.Size()}
}

// WarmDedup preloads recent "type:key" pairs into the dedup cache
func (e *Engine) WarmDedup(keys []string) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	e.idempotency.Warm(keys)
}

func (e *Engine) Staking() *staking.Engine    { return e.staking }
func (e *Engine) Registry() *factory.Registry { return e.registry }

func (e *Engine) reject(actionType string, err error) {
	if e.metrics != nil {
		e.metrics.CoreActionsRejected.WithLabelValues(actionType, dexerr.Kind(err)).Inc()
	}
}

func (e *Engine) record(actionType string, start time.Time, r *Receipt) {
	if e.metrics == nil {
		return
	}
	m := e.metrics
	m.CoreActionsApplied.WithLabelValues(actionType).Inc()
	m.CoreActionDuration.WithLabelValues(actionType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(r.Sequence))
	m.CoreBlockHeight.Set(float64(r.Env.BlockHeight))
	if r.Batch != nil {
		for _, j := range r.Batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			switch j.JournalType {
			case ledger.JournalTypeRewardPayout:
				m.RewardsPaid.Add(toFloat(j.Amount))
			case ledger.JournalTypePrincipalReturn:
				m.PrincipalUnstake.Add(toFloat(j.Amount))
			}
		}
	}
	for _, msg := range r.Result.Messages {
		m.CoreMessages.WithLabelValues(msg.Kind()).Inc()
	}
	if p := r.Accrual; p != nil {
		outcome := "applied"
		if p.Skipped {
			outcome = "skipped"
		}
		m.AccrualPasses.WithLabelValues(string(p.Formula), outcome).Inc()
		if !p.Skipped {
			m.RewardsAccrued.Add(toFloat(p.Distributed()))
			m.AccrualResidual.Set(toFloat(p.Residual))
		}
		e.observeStakers(e.backend)
	}
	if s := r.Swap; s != nil {
		m.SwapsSettled.WithLabelValues(s.Pool.Address, s.Trade.Direction).Inc()
		m.LPFeesTaken.WithLabelValues(s.OfferToken).Add(toFloat(s.Info.Settlement.LPFee))
		m.ProtocolFeesTaken.WithLabelValues(s.OfferToken).Add(toFloat(s.Info.Settlement.ProtocolFee))
	}
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v.ToBig(), 0).InexactFloat64()
}
