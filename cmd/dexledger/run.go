package main

import (
	"DexLedger/internal/config"
	"DexLedger/internal/core"
	"DexLedger/internal/ingestion"
	"DexLedger/internal/observability"
	"DexLedger/internal/persistence"
	"DexLedger/internal/projection"
	"DexLedger/internal/query"
	"DexLedger/internal/server"
	"DexLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var (
	runCommand = &cli.Command{
		Name:   "run",
		Usage:  "Run the ledger: ingestion, engine, workers and API servers",
		Action: runLedger,
	}
	initCommand = &cli.Command{
		Name:   "init",
		Usage:  "Write the instantiation state from the config file",
		Action: initLedger,
	}
)

// backend bundles the state store with the optional Postgres handle that
// also backs the receipt log and projections
type backend struct {
	store store.Backend
	db    *sql.DB
}

func (b *backend) Close() {
	b.store.Close()
	if b.db != nil {
		b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("memory backend: state is lost on exit")
		return &backend{store: store.NewMemoryBackend()}, nil

	case config.BackendLevelDB:
		ldb, err := store.OpenLevelDB(cfg.Store.LevelDBPath, cfg.LevelDBOptions())
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.Store.LevelDBPath).Msg("leveldb opened")
		return &backend{store: ldb}, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		migrator := persistence.NewMigrator(db, cfg.Store.MigrationsDir, logger)
		if err := migrator.Up(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Msg("postgres connected, migrations applied")
		return &backend{store: store.NewPostgresBackend(db, cfg.Store.QueryTimeout), db: db}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func initLedger(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	logger := observability.NewLoggerWithLevel("init", observability.ParseLogLevel(cfg.LogLevel))

	genesis, err := cfg.Genesis()
	if err != nil {
		return err
	}
	b, err := openBackend(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	engine, err := core.NewEngine(core.Config{
		Backend:   b.store,
		Handshake: cfg.HandshakeOptions(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return engine.Initialize(genesis)
}

func runLedger(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("DexLedger starting")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// persist blocks (backpressure), projection drops when full
	var persistChan chan core.Receipt
	if b.db != nil {
		persistChan = make(chan core.Receipt, cfg.Pipeline.PersistChanSize)
	}
	projectionChan := make(chan core.Receipt, cfg.Pipeline.ProjectionChanSize)
	outboundChan := make(chan ingestion.OutboundMessage, cfg.Pipeline.PublishChanSize)

	g, gctx := errgroup.WithContext(ctx)

	engineCfg := core.Config{
		Backend:        b.store,
		DedupCapacity:  cfg.Pipeline.DedupCapacity,
		Handshake:      cfg.HandshakeOptions(),
		Metrics:        metrics,
		Logger:         componentLogger("core"),
		ProjectionChan: projectionChan,
		Done:           gctx.Done(),
	}
	if persistChan != nil {
		engineCfg.PersistChan = persistChan
		engineCfg.DBChecker = persistence.NewPostgresIdempotencyChecker(b.db)
	}
	engine, err := core.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	if cfg.Admin != "" {
		if err := initializeIfNeeded(engine, cfg, logger); err != nil {
			return err
		}
	}

	if b.db != nil {
		keys, err := persistence.NewReceiptLogWriter(b.db).RecentKeys(ctx, cfg.Pipeline.DedupCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("dedup warm-up failed")
		} else {
			engine.WarmDedup(keys)
			logger.Info().Int("keys", len(keys)).Msg("dedup cache warmed")
		}
	}

	payouts := projection.NewPayoutHistory(cfg.Pipeline.PayoutHistorySize)
	projWorker := projection.NewProjectionWorker(b.db, projectionChan, payouts, metrics, componentLogger("projection"))
	projWorker.Resume(engine.Sequence())

	processor := ingestion.NewProcessor(engine, outboundChan, metrics, componentLogger("ingestion"))
	submissions := make(chan ingestion.Submission)

	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Query:         query.NewQueryService(engine, b.db, payouts),
		Ingest:        ingestion.NewGRPCIngestService(submissions),
		DB:            b.db,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        componentLogger("server"),
	})

	pending, err := engine.PendingOutbox()
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}

	if persistChan != nil {
		persistWorker := persistence.NewPersistenceWorker(b.db, persistChan,
			cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics, componentLogger("persistence"))
		g.Go(func() error { return persistWorker.Run(gctx) })
	}
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return processor.RunSubmissions(gctx, submissions) })
	g.Go(func() error {
		if err := processor.Recover(gctx, pending); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.NATS.Enabled {
		if err := startNATS(gctx, g, cfg, processor, engine, outboundChan, metrics, componentLogger); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("NATS disabled: outbound messages are logged, not published")
		g.Go(func() error { return drainOutbound(gctx, outboundChan, engine, componentLogger("outbound")) })
	}

	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, logger) })
	g.Go(func() error {
		sampleChannels(gctx, func() {
			if persistChan != nil {
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			}
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("outbound", len(outboundChan), cap(outboundChan))
		})
		return nil
	})

	healthChecker.SetReady(true)
	logger.Info().
		Uint64("sequence", engine.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("DexLedger ready")

	err = g.Wait()
	healthChecker.SetNotReady("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("shutting down after failure")
		return err
	}
	logger.Info().Msg("DexLedger shutdown complete")
	return nil
}

// initializeIfNeeded writes the configured instantiation state on first start
func initializeIfNeeded(engine *core.Engine, cfg config.Config, logger zerolog.Logger) error {
	genesis, err := cfg.Genesis()
	if err != nil {
		return err
	}
	err = engine.Initialize(genesis)
	if errors.Is(err, core.ErrInitialized) {
		logger.Debug().Msg("state already initialized")
		return nil
	}
	return err
}

func startNATS(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.Config,
	processor *ingestion.Processor,
	completer ingestion.OutboxCompleter,
	outboundChan <-chan ingestion.OutboundMessage,
	metrics *observability.Metrics,
	componentLogger func(string) zerolog.Logger,
) error {
	logger := componentLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		nc.Close()
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		nc.Close()
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawChan := make(chan ingestion.RawAction, cfg.Pipeline.PublishChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		nc.Close()
		return fmt.Errorf("nats subscribe: %w", err)
	}
	publisher := ingestion.NewOutboundPublisher(js, outboundChan, completer, metrics, componentLogger("publisher"))

	g.Go(func() error { return processor.RunNATS(ctx, rawChan) })
	g.Go(func() error { return publisher.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		subscriber.Stop()
		nc.Drain()
		return nil
	})
	logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	return nil
}

// drainOutbound stands in for the publisher when NATS is off. Logged
// messages count as delivered.
func drainOutbound(ctx context.Context, in <-chan ingestion.OutboundMessage, completer ingestion.OutboxCompleter, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-in:
			logger.Info().
				Str("id", m.ID()).
				Str("subject", m.Subject()).
				Str("action_type", m.ActionType).
				Str("idempotency_key", m.IdempotencyKey).
				Msg("outbound message")
			if m.Last {
				ingestion.CompleteOutbox(completer, m, logger)
			}
		}
	}
}

// sampleChannels refreshes the channel gauges once a second
func sampleChannels(ctx context.Context, sample func()) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
