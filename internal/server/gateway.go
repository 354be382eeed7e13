package server

import (
	"DexLedger/internal/amm"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

const maxSubmitBody = 1 << 20

// route binds one HTTP method and path pattern to a LedgerServer call
type route struct {
	method  string
	pattern string
	handle  func(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error)
}

func (s *Server) routes() []route {
	ls := s.ledger
	return []route{
		{"POST", "/v1/actions/{type}", func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
			if err != nil {
				return nil, err
			}
			return ls.Submit(ctx, &SubmitRequest{Type: p["type"], Payload: body})
		}},
		{"GET", "/v1/head", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.Head(ctx, &Empty{})
		}},
		{"GET", "/v1/staking/stakers", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.Stakers(ctx, &Empty{})
		}},
		{"GET", "/v1/staking/config", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.StakingConfig(ctx, &Empty{})
		}},
		{"GET", "/v1/staking/claim/{staker}", func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			return ls.ClaimEstimate(ctx, &ClaimEstimateRequest{Staker: p["staker"], At: queryUint(r, "at")})
		}},
		{"GET", "/v1/staking/payouts/{staker}", func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			return ls.PayoutHistory(ctx, &PayoutHistoryRequest{Staker: p["staker"], Limit: int(queryUint(r, "limit"))})
		}},
		{"GET", "/v1/factory/config", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.FactoryConfig(ctx, &Empty{})
		}},
		{"GET", "/v1/factory/pairs", func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			return ls.ListPairs(ctx, &PageRequest{Start: queryUint(r, "start"), Limit: queryLimit(r)})
		}},
		{"GET", "/v1/factory/pairs/{token_0}/{token_1}", func(ctx context.Context, _ *http.Request, p map[string]string) (interface{}, error) {
			return ls.PairAddress(ctx, &PairAddressRequest{Pair: amm.NewTokenPair(p["token_0"], p["token_1"])})
		}},
		{"GET", "/v1/pools/{pool}/estimate", func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			q := r.URL.Query()
			return ls.EstimateSwap(ctx, &EstimateSwapRequest{
				Pool:        p["pool"],
				OfferToken:  q.Get("offer_token"),
				OfferAmount: q.Get("amount"),
			})
		}},
		{"GET", "/v1/pools/{pool}/trades", func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			return ls.Trades(ctx, &TradesRequest{Pool: p["pool"], Start: queryUint(r, "start"), Limit: queryLimit(r)})
		}},
		// account paths contain ':', which the gateway parses as a verb
		{"GET", "/v1/balances", func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			return ls.Balances(ctx, &BalancesRequest{Account: r.URL.Query().Get("account")})
		}},
		{"GET", "/v1/admin", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.Admin(ctx, &Empty{})
		}},
		{"GET", "/v1/admin/integrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.VerifyIntegrity(ctx, &Empty{})
		}},
		{"POST", "/v1/admin/rebuild", func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return ls.RebuildProjections(ctx, &Empty{})
		}},
	}
}

// newGatewayMux serves the Ledger service as HTTP/JSON
func (s *Server) newGatewayMux() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	for _, rt := range s.routes() {
		endpoint := rt.method + " " + rt.pattern
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := s.observe(r.Context(), endpoint, func(ctx context.Context) (interface{}, error) {
				return rt.handle(ctx, r, params)
			})
			writeJSON(w, resp, err)
		})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, resp interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		st := status.Convert(toStatus(err))
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func queryUint(r *http.Request, key string) uint64 {
	n, _ := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	return n
}

func queryLimit(r *http.Request) uint8 {
	n := queryUint(r, "limit")
	if n > 255 {
		n = 255
	}
	return uint8(n)
}
