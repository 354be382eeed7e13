package ingestion

import (
	"DexLedger/internal/action"
	"DexLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	outboundStream  = "DEX_OUTBOUND"
	outboundSubject = "dex.outbound"
)

// messageNamespace derives stable outbound message ids
var messageNamespace = uuid.MustParse("9b1c3f0e-5a52-4f7e-8e43-d1f0b6a2c7e4")

// StreamPublisher is the subset of jetstream.JetStream the publisher needs
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundMessage is one committed message addressed to the host chain
type OutboundMessage struct {
	Sequence       uint64 // outbox entry the message belongs to
	ActionType     string
	IdempotencyKey string
	Index          int
	Last           bool
	Message        action.Message
}

// ID is stable across retries, so JetStream dedup drops republishes
func (m OutboundMessage) ID() string {
	name := m.ActionType + ":" + m.IdempotencyKey + ":" + strconv.Itoa(m.Index)
	return uuid.NewSHA1(messageNamespace, []byte(name)).String()
}

// Subject is dex.outbound.<kind>
func (m OutboundMessage) Subject() string {
	return outboundSubject + "." + m.Message.Kind()
}

type transferJSON struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type instantiateJSON struct {
	CodeID   uint64 `json:"code_id"`
	CodeHash string `json:"code_hash"`
	Label    string `json:"label"`
	Msg      []byte `json:"msg"`
}

type outboundJSON struct {
	ID             string           `json:"id"`
	Sequence       uint64           `json:"sequence"`
	ActionType     string           `json:"action_type"`
	IdempotencyKey string           `json:"idempotency_key"`
	Index          int              `json:"index"`
	Kind           string           `json:"kind"`
	Transfer       *transferJSON    `json:"transfer,omitempty"`
	Instantiate    *instantiateJSON `json:"instantiate,omitempty"`
}

// MarshalOutbound encodes the message body published to NATS
func MarshalOutbound(m OutboundMessage) ([]byte, error) {
	out := outboundJSON{
		ID:             m.ID(),
		Sequence:       m.Sequence,
		ActionType:     m.ActionType,
		IdempotencyKey: m.IdempotencyKey,
		Index:          m.Index,
		Kind:           m.Message.Kind(),
	}
	if t := m.Message.Transfer; t != nil {
		out.Transfer = &transferJSON{Token: t.Token, Recipient: t.Recipient, Amount: t.Amount.Dec()}
	}
	if i := m.Message.Instantiate; i != nil {
		out.Instantiate = &instantiateJSON{CodeID: i.CodeID, CodeHash: i.CodeHash, Label: i.Label, Msg: i.Msg}
	}
	return json.Marshal(out)
}

// OutboxCompleter drops an outbox entry once its messages are published.
// *core.Engine implements it.
type OutboxCompleter interface {
	CompleteOutbox(seq uint64) error
}

// OutboundPublisher publishes committed messages for the host relayer
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan OutboundMessage
	completer OutboxCompleter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan OutboundMessage, completer OutboxCompleter, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		completer: completer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publishWithRetry(ctx, msg); err != nil {
				return err
			}
			if msg.Last {
				CompleteOutbox(op.completer, msg, op.logger)
			}
		}
	}
}

// CompleteOutbox confirms the entry msg closes. A failure leaves the entry
// to be published again after restart, where the message id dedups it.
func CompleteOutbox(c OutboxCompleter, msg OutboundMessage, logger zerolog.Logger) {
	if c == nil {
		return
	}
	if err := c.CompleteOutbox(msg.Sequence); err != nil {
		logger.Warn().Err(err).
			Uint64("sequence", msg.Sequence).
			Str("idempotency_key", msg.IdempotencyKey).
			Msg("outbox entry not confirmed")
	}
}

// publishWithRetry retries until the server acks. Messages move custodied
// funds, so they are never dropped.
func (op *OutboundPublisher) publishWithRetry(ctx context.Context, msg OutboundMessage) error {
	backoff := 50 * time.Millisecond
	for {
		err := op.publish(ctx, msg)
		if err == nil {
			return nil
		}
		if op.metrics != nil {
			op.metrics.PublishDrops.Inc()
		}
		op.logger.Warn().Err(err).
			Str("action_type", msg.ActionType).
			Str("idempotency_key", msg.IdempotencyKey).
			Dur("backoff", backoff).
			Msg("outbound publish failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, msg OutboundMessage) error {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = op.js.Publish(ctx, msg.Subject(), data, jetstream.WithMsgID(msg.ID()))
	return err
}

// EnsureOutboundStream creates the outbound message stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{outboundSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: time.Hour,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
