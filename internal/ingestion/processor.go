package ingestion

import (
	"DexLedger/internal/action"
	"DexLedger/internal/core"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrOutboxPending means the action committed but shutdown interrupted the
// queueing of its messages. They stay in the engine's outbox and are queued
// again on redelivery or at the next start.
var ErrOutboxPending = errors.New("ingestion: action committed, messages left in outbox")

// Executor applies one action and exposes the outbox holding its messages.
// *core.Engine implements it.
type Executor interface {
	Execute(a action.Action) (*action.Result, error)
	OutboxFor(actionType, idempotencyKey string) (*core.OutboxEntry, bool, error)
}

// Processor feeds parsed actions to the engine and hands the committed
// outbound messages to the publisher.
type Processor struct {
	exec     Executor
	outbound chan<- OutboundMessage
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewProcessor(exec Executor, outbound chan<- OutboundMessage, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		exec:     exec,
		outbound: outbound,
		metrics:  metrics,
		logger:   logger,
	}
}

// Process executes a and enqueues its messages from the outbox. The enqueue
// blocks: a committed transfer must reach the publisher. A duplicate whose
// messages are still unconfirmed queues them again; the stable message ids
// let JetStream drop any repeat.
func (p *Processor) Process(ctx context.Context, a action.Action) (*action.Result, error) {
	res, err := p.exec.Execute(a)
	if errors.Is(err, core.ErrDuplicate) {
		if qerr := p.requeue(ctx, a); qerr != nil {
			return nil, qerr
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if len(res.Messages) == 0 {
		return res, nil
	}
	if err := p.requeue(ctx, a); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Processor) requeue(ctx context.Context, a action.Action) error {
	entry, found, err := p.exec.OutboxFor(a.ActionType().String(), a.IdempotencyKey())
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	if !found {
		return nil
	}
	if err := p.enqueue(ctx, *entry); err != nil {
		return fmt.Errorf("%w: %w", ErrOutboxPending, err)
	}
	return nil
}

// Recover queues the entries an earlier run left unconfirmed
func (p *Processor) Recover(ctx context.Context, entries []core.OutboxEntry) error {
	for _, entry := range entries {
		if err := p.enqueue(ctx, entry); err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		p.logger.Info().Int("entries", len(entries)).Msg("requeued unconfirmed outbound messages")
	}
	return nil
}

func (p *Processor) enqueue(ctx context.Context, entry core.OutboxEntry) error {
	for i, m := range entry.Messages {
		msg := OutboundMessage{
			Sequence:       entry.Sequence,
			ActionType:     entry.ActionType,
			IdempotencyKey: entry.IdempotencyKey,
			Index:          i,
			Last:           i == len(entry.Messages)-1,
			Message:        m,
		}
		select {
		case p.outbound <- msg:
		case <-ctx.Done():
			p.logger.Warn().
				Str("id", msg.ID()).
				Uint64("sequence", entry.Sequence).
				Str("idempotency_key", msg.IdempotencyKey).
				Msg("shutdown before outbound message was queued")
			return ctx.Err()
		}
	}
	return nil
}

// RunNATS processes actions from the subscriber until ctx is done
func (p *Processor) RunNATS(ctx context.Context, in <-chan RawAction) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.handleRaw(ctx, raw)
		}
	}
}

func (p *Processor) handleRaw(ctx context.Context, raw RawAction) {
	label := raw.Type.String()
	if p.metrics != nil && !raw.Published.IsZero() {
		p.metrics.NATSPullLatency.WithLabelValues(label).Observe(raw.Received.Sub(raw.Published).Seconds())
	}

	a, err := ParseRawAction(raw, raw.Type)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed action")
		raw.TermFunc()
		return
	}

	_, err = p.Process(ctx, a)
	if p.metrics != nil {
		p.metrics.IngestToApply.WithLabelValues(label).Observe(time.Since(raw.Received).Seconds())
	}

	switch {
	case err == nil, errors.Is(err, core.ErrDuplicate):
		raw.AckFunc()
	case errors.Is(err, ErrOutboxPending):
		p.logger.Warn().Err(err).Str("idempotency_key", a.IdempotencyKey()).Msg("action committed, messages pending in outbox")
		raw.AckFunc()
	case dexerr.Kind(err) == "Internal":
		p.logger.Error().Err(err).Str("idempotency_key", a.IdempotencyKey()).Msg("action failed, redelivering")
		raw.NakFunc()
	default:
		// rejected deterministically; redelivery would fail the same way
		raw.TermFunc()
	}
}

// Submission is a synchronous action from the gRPC ingest surface
type Submission struct {
	Action action.Action
	Reply  chan<- SubmitResult
}

type SubmitResult struct {
	Result *action.Result
	Err    error
}

// RunSubmissions processes gRPC submissions until ctx is done
func (p *Processor) RunSubmissions(ctx context.Context, in <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-in:
			if !ok {
				return nil
			}
			res, err := p.Process(ctx, s.Action)
			if errors.Is(err, ErrOutboxPending) && res != nil {
				err = nil
			}
			s.Reply <- SubmitResult{Result: res, Err: err}
		}
	}
}
