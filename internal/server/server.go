package server

import (
	"DexLedger/internal/ingestion"
	"DexLedger/internal/observability"
	"DexLedger/internal/query"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Server hosts the Ledger service over gRPC and the HTTP/JSON gateway.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	ledger        LedgerServer
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// Deps holds everything the services need. DB and Ingest may be nil.
type Deps struct {
	Query         *query.QueryService
	Ingest        *ingestion.GRPCIngestService
	DB            *sql.DB
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	s := &Server{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		ledger: &ledgerServer{
			qs:     deps.Query,
			ingest: deps.Ingest,
			db:     deps.DB,
			logger: deps.Logger,
		},
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	s.grpcServer.RegisterService(&ledgerServiceDesc, s.ledger)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// GRPC exposes the underlying server for in-process listeners
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP handler: health probes plus the gateway
func (s *Server) Handler() (http.Handler, error) {
	gw, err := s.newGatewayMux()
	if err != nil {
		return nil, fmt.Errorf("gateway routes: %w", err)
	}

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		mux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	mux.Handle("/", gw)
	return mux, nil
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return s.observe(ctx, info.FullMethod, func(ctx context.Context) (interface{}, error) {
		return handler(ctx, req)
	})
}

// observe records metrics and logs failures for one request
func (s *Server) observe(ctx context.Context, endpoint string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	resp, err := fn(ctx)

	code := status.Code(toStatus(err))
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			s.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, outcome).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("endpoint", endpoint).Str("code", code.String()).Msg("request failed")
	}
	return resp, err
}
