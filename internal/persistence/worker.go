package persistence

import (
	"DexLedger/internal/core"
	"DexLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes receipts to
// Postgres. The engine sends on that channel with blocking sends, so if this
// worker falls behind the engine stalls and no receipt is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *ReceiptLogWriter
	inputChan    <-chan core.Receipt
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.Receipt,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewReceiptLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type pending struct {
	actions  []ActionRow
	journals []JournalRow
	oldest   time.Time
}

func (p *pending) reset() {
	p.actions = p.actions[:0]
	p.journals = p.journals[:0]
	p.oldest = time.Time{}
}

// Run batches incoming receipts and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the channel is
// closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		actions:  make([]ActionRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*3),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.actions) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case receipt, ok := <-pw.inputChan:
			if !ok {
				if len(batch.actions) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			out, err := FromReceipt(receipt)
			if err != nil {
				// only a broken result encoding gets here; the state is committed
				pw.logger.Error().Err(err).Uint64("sequence", receipt.Sequence).Msg("receipt not persisted")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}
			if batch.oldest.IsZero() {
				batch.oldest = receipt.AppliedAt
			}
			batch.actions = append(batch.actions, out.Action)
			batch.journals = append(batch.journals, out.Journals...)

			if len(batch.actions) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.actions) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last flush is attempted.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("actions", len(batch.actions)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteActionBatch(ctx, tx, batch.actions); err != nil {
		pw.countError("write_actions")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.actions)))
		pw.metrics.PersistActionsWritten.Add(float64(len(batch.actions)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(batch.actions[len(batch.actions)-1].Sequence))
		if !batch.oldest.IsZero() {
			pw.metrics.ApplyToPersist.Observe(time.Since(batch.oldest).Seconds())
		}
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

// Writer returns the underlying writer
func (pw *PersistenceWorker) Writer() *ReceiptLogWriter {
	return pw.writer
}
