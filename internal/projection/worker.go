package projection

import (
	"DexLedger/internal/core"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const watermarkMain = "main"

// ProjectionWorker updates read-side tables from applied receipts. The
// projection channel drops on full, so a gap in sequences means the tables
// are behind; RebuildProjections repairs them from the event log.
type ProjectionWorker struct {
	db        *sql.DB // nil: in-memory projections only
	inputChan <-chan core.Receipt
	payouts   *PayoutHistory
	balances  *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	lastSeq   uint64
	gapped    bool
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.Receipt,
	payouts *PayoutHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	balances := ledger.NewBalanceTracker()
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		payouts:   payouts,
		balances:  balances,
		validator: ledger.NewInvariantValidator(balances),
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, r); err != nil {
				// projections are eventually consistent and rebuildable
				pw.logger.Warn().Err(err).Uint64("sequence", r.Sequence).Msg("projection update failed")
			}
		}
	}
}

// Apply projects one receipt
func (pw *ProjectionWorker) Apply(ctx context.Context, r core.Receipt) error {
	expected := pw.lastSeq + 1
	if r.Sequence != expected && !pw.gapped {
		pw.gapped = true
		pw.logger.Warn().
			Uint64("expected", expected).
			Uint64("got", r.Sequence).
			Msg("projection gap, in-memory balances no longer checked")
	}
	pw.lastSeq = r.Sequence

	pw.applyMemory(r)

	if pw.db == nil {
		return nil
	}
	start := time.Now()
	if err := pw.applyDB(ctx, r); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
	}
	return nil
}

// Gapped reports whether a receipt was missed since start
func (pw *ProjectionWorker) Gapped() bool {
	return pw.gapped
}

// Resume starts gap detection after seq, for workers started on a
// non-empty log. The in-memory balances stay unchecked.
func (pw *ProjectionWorker) Resume(seq uint64) {
	pw.lastSeq = seq
	if seq > 0 {
		pw.gapped = true
	}
}

func (pw *ProjectionWorker) applyMemory(r core.Receipt) {
	if r.Batch == nil {
		return
	}
	for _, j := range r.Batch.Journals {
		if j.JournalType == ledger.JournalTypeRewardPayout {
			pw.payouts.Add(PayoutEntry{
				Sequence:  r.Sequence,
				Staker:    j.DebitAccount.Entity,
				Token:     j.Token(),
				Amount:    j.Amount,
				BlockTime: j.Timestamp,
			})
		}
	}

	if pw.gapped {
		return
	}
	if err := pw.balances.ApplyBatch(r.Batch); err != nil {
		pw.logger.Error().Err(err).Uint64("sequence", r.Sequence).Msg("invalid journal batch")
		return
	}
	if err := pw.validator.ValidateGlobalBalance(); err != nil {
		pw.logger.Error().Err(err).Uint64("sequence", r.Sequence).Msg("ledger invariant violated")
	}
	if err := pw.validator.ValidateCustodyNonNegative(); err != nil {
		pw.logger.Error().Err(err).Uint64("sequence", r.Sequence).Msg("custody overdrawn")
	}
}

func (pw *ProjectionWorker) applyDB(ctx context.Context, r core.Receipt) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if r.Batch != nil {
		for _, j := range r.Batch.Journals {
			if err := updateBalance(ctx, tx, j, r.Sequence); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
			if j.JournalType == ledger.JournalTypeRewardPayout {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO projections.reward_payouts (sequence, staker, token, amount, block_time)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (sequence, staker) DO NOTHING
				`, int64(r.Sequence), j.DebitAccount.Entity, j.Token(), j.Amount.Dec(), int64(j.Timestamp)); err != nil {
					return fmt.Errorf("payout projection: %w", err)
				}
			}
		}
	}

	if p := r.Accrual; p != nil && !p.Skipped {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.accrual_passes
				(sequence, from_time, to_time, formula, total, distributed, residual, stakers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (sequence) DO NOTHING
		`, int64(r.Sequence), int64(p.From), int64(p.To), string(p.Formula),
			p.Total.Dec(), p.Distributed().Dec(), p.Residual.Dec(), len(p.Increments)); err != nil {
			return fmt.Errorf("accrual projection: %w", err)
		}
	}

	if s := r.Swap; s != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.trades
				(sequence, pool, trader, offer_token, offer_amount, return_amount, lp_fee, protocol_fee, price, direction, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (sequence) DO NOTHING
		`, int64(r.Sequence), s.Pool.Address, r.Env.Sender, s.OfferToken,
			s.Trade.Amount.Dec(), s.Info.Result.ReturnAmount.Dec(),
			s.Info.Settlement.LPFee.Dec(), s.Info.Settlement.ProtocolFee.Dec(),
			fpmath.FormatDecimal(s.Trade.Price), s.Trade.Direction, int64(r.Env.BlockTime)); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET sequence = $2, updated_at = NOW()
	`, watermarkMain, int64(r.Sequence)); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalance mirrors BalanceTracker: debit increases, credit decreases
func updateBalance(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq uint64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, token, balance, sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account, token)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, sequence = $4
	`, j.DebitAccount.AccountPath(), j.Token(), j.Amount.Dec(), int64(seq)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, token, balance, sequence)
		VALUES ($1, $2, -($3::NUMERIC), $4)
		ON CONFLICT (account, token)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC, sequence = $4
	`, j.CreditAccount.AccountPath(), j.Token(), j.Amount.Dec(), int64(seq))
	return err
}

// Watermark returns the last sequence the tables reflect
func Watermark(ctx context.Context, db *sql.DB) (uint64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT sequence FROM projections.watermark WHERE projection = $1`, watermarkMain,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return uint64(seq), err
}

// RebuildProjections rebuilds the journal-derived tables from the event log
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.reward_payouts`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, token, balance, sequence)
		SELECT account, token, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account, token, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, token, -amount AS delta, sequence FROM event_log.journal
		) legs
		GROUP BY account, token
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reward_payouts (sequence, staker, token, amount, block_time)
		SELECT sequence, split_part(debit_account, ':', 2), token, amount, block_time
		FROM event_log.journal
		WHERE journal_type = 'reward_payout'
		ON CONFLICT (sequence, staker) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild payouts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.actions
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
