package server

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/ingestion"
	"DexLedger/internal/persistence"
	"DexLedger/internal/projection"
	"DexLedger/internal/query"
	"context"
	"database/sql"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

const serviceName = "dexledger.v1.Ledger"

// LedgerServer is the gRPC surface: action submission, contract queries
// and admin operations.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	Head(context.Context, *Empty) (*query.HeadResponse, error)
	Stakers(context.Context, *Empty) (*query.StakersResponse, error)
	ClaimEstimate(context.Context, *ClaimEstimateRequest) (*query.ClaimEstimateResponse, error)
	StakingConfig(context.Context, *Empty) (*query.StakingConfigResponse, error)
	FactoryConfig(context.Context, *Empty) (*query.FactoryConfigResponse, error)
	ListPairs(context.Context, *PageRequest) (*query.PairsResponse, error)
	PairAddress(context.Context, *PairAddressRequest) (*query.PairAddressResponse, error)
	EstimateSwap(context.Context, *EstimateSwapRequest) (*query.SwapEstimateResponse, error)
	Trades(context.Context, *TradesRequest) (*query.TradesResponse, error)
	Admin(context.Context, *Empty) (*query.AdminResponse, error)
	PayoutHistory(context.Context, *PayoutHistoryRequest) (*query.PayoutHistoryResponse, error)
	Balances(context.Context, *BalancesRequest) (*query.BalancesResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *Empty) (*RebuildResponse, error)
}

// unary builds the method descriptor for one LedgerServer method
func unary[Req any, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("Head", LedgerServer.Head),
		unary("Stakers", LedgerServer.Stakers),
		unary("ClaimEstimate", LedgerServer.ClaimEstimate),
		unary("StakingConfig", LedgerServer.StakingConfig),
		unary("FactoryConfig", LedgerServer.FactoryConfig),
		unary("ListPairs", LedgerServer.ListPairs),
		unary("PairAddress", LedgerServer.PairAddress),
		unary("EstimateSwap", LedgerServer.EstimateSwap),
		unary("Trades", LedgerServer.Trades),
		unary("Admin", LedgerServer.Admin),
		unary("PayoutHistory", LedgerServer.PayoutHistory),
		unary("Balances", LedgerServer.Balances),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("RebuildProjections", LedgerServer.RebuildProjections),
	},
	Streams: []grpc.StreamDesc{},
}

// ledgerServer implements LedgerServer. Errors leave as gRPC statuses.
type ledgerServer struct {
	qs     *query.QueryService
	ingest *ingestion.GRPCIngestService
	db     *sql.DB
	logger zerolog.Logger
}

var _ LedgerServer = (*ledgerServer)(nil)

func (s *ledgerServer) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if s.ingest == nil {
		return nil, toStatus(fmt.Errorf("submit disabled: %w", dexerr.ErrNotFound))
	}
	if req.Type == "" {
		return nil, toStatus(fmt.Errorf("type is required: %w", dexerr.ErrInvalidInput))
	}
	res, err := s.ingest.Submit(ctx, req.Type, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	body, err := persistence.MarshalResult(res)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{Result: body}, nil
}

func (s *ledgerServer) Head(ctx context.Context, _ *Empty) (*query.HeadResponse, error) {
	resp, err := s.qs.Head(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) Stakers(ctx context.Context, _ *Empty) (*query.StakersResponse, error) {
	resp, err := s.qs.Stakers(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) ClaimEstimate(ctx context.Context, req *ClaimEstimateRequest) (*query.ClaimEstimateResponse, error) {
	resp, err := s.qs.ClaimEstimate(ctx, req.Staker, req.At)
	return resp, toStatus(err)
}

func (s *ledgerServer) StakingConfig(ctx context.Context, _ *Empty) (*query.StakingConfigResponse, error) {
	resp, err := s.qs.StakingConfig(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) FactoryConfig(ctx context.Context, _ *Empty) (*query.FactoryConfigResponse, error) {
	resp, err := s.qs.FactoryConfig(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) ListPairs(ctx context.Context, req *PageRequest) (*query.PairsResponse, error) {
	resp, err := s.qs.ListPairs(ctx, req.Start, req.Limit)
	return resp, toStatus(err)
}

func (s *ledgerServer) PairAddress(ctx context.Context, req *PairAddressRequest) (*query.PairAddressResponse, error) {
	resp, err := s.qs.PairAddress(ctx, req.Pair)
	return resp, toStatus(err)
}

func (s *ledgerServer) EstimateSwap(ctx context.Context, req *EstimateSwapRequest) (*query.SwapEstimateResponse, error) {
	offer, err := uint256.FromDecimal(req.OfferAmount)
	if err != nil {
		return nil, toStatus(fmt.Errorf("offer_amount %q: %v: %w", req.OfferAmount, err, dexerr.ErrInvalidInput))
	}
	resp, err := s.qs.EstimateSwap(ctx, req.Pool, req.OfferToken, offer)
	return resp, toStatus(err)
}

func (s *ledgerServer) Trades(ctx context.Context, req *TradesRequest) (*query.TradesResponse, error) {
	resp, err := s.qs.Trades(ctx, req.Pool, req.Start, req.Limit)
	return resp, toStatus(err)
}

func (s *ledgerServer) Admin(ctx context.Context, _ *Empty) (*query.AdminResponse, error) {
	resp, err := s.qs.Admin(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) PayoutHistory(ctx context.Context, req *PayoutHistoryRequest) (*query.PayoutHistoryResponse, error) {
	resp, err := s.qs.PayoutHistory(ctx, req.Staker, req.Limit)
	return resp, toStatus(err)
}

func (s *ledgerServer) Balances(ctx context.Context, req *BalancesRequest) (*query.BalancesResponse, error) {
	resp, err := s.qs.Balances(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerServer) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	resp, err := s.qs.VerifyIntegrity(ctx)
	return resp, toStatus(err)
}

func (s *ledgerServer) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if s.db == nil {
		return nil, toStatus(query.ErrNoProjections)
	}
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, toStatus(err)
	}
	return &RebuildResponse{Rebuilt: true}, nil
}
