package ingestion

import (
	"DexLedger/internal/action"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	actionStream  = "DEX_ACTIONS"
	actionSubject = "dex.actions"
)

// NATSSubscriber consumes JetStream action subjects and feeds them to the
// processor. Each action type has its own subject and durable consumer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawAction
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawAction is an undecoded action from NATS
type RawAction struct {
	Subject   string
	Type      action.Type
	Data      []byte
	Published time.Time // JetStream publish time
	Received  time.Time
	AckFunc   func() // applied or duplicate
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // rejected for good, never redeliver
}

// SubjectConfig maps a NATS subject to an action type
type SubjectConfig struct {
	Subject      string
	Type         action.Type
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one subject per action: dex.actions.<name>.>
func DefaultSubjects() []SubjectConfig {
	subjects := make([]SubjectConfig, 0, len(wireTypes))
	for name, t := range wireTypes {
		subjects = append(subjects, SubjectConfig{
			Subject:      fmt.Sprintf("%s.%s.>", actionSubject, name),
			Type:         t,
			ConsumerName: "ledger-" + name,
			StreamName:   actionStream,
		})
	}
	return subjects
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawAction, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		actionType := cfg.Type
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawAction{
				Subject:  msg.Subject(),
				Type:     actionType,
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
				TermFunc: func() { msg.Term() },
			}
			if meta, err := msg.Metadata(); err == nil {
				raw.Published = meta.Timestamp
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the action stream if it doesn't exist.
// Duplicate publishes with the same Nats-Msg-Id inside the window are dropped
// by the server before they reach a consumer.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:       actionStream,
		Subjects:   []string{actionSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("dexledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
