package query

import (
	"DexLedger/internal/admin"
	"DexLedger/internal/amm"
	"DexLedger/internal/core"
	"DexLedger/internal/dexerr"
	"DexLedger/internal/factory"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/projection"
	"DexLedger/internal/staking"
	"DexLedger/internal/store"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 30
)

// ErrNoProjections is returned by projection-backed queries when the
// process runs without Postgres.
var ErrNoProjections = fmt.Errorf("query: projections unavailable: %w", dexerr.ErrNotFound)

// StateView is the read side of the engine. *core.Engine implements it.
type StateView interface {
	View(fn func(r store.Reader) error) error
	Sequence() uint64
	StateHash() [32]byte
	Stats() core.Stats
	Staking() *staking.Engine
	Registry() *factory.Registry
}

// QueryService answers contract queries from engine state and history
// queries from the projections. State answers are consistent with the
// sequence they report.
type QueryService struct {
	state   StateView
	db      *sql.DB // nil without Postgres
	payouts *projection.PayoutHistory
}

func NewQueryService(state StateView, db *sql.DB, payouts *projection.PayoutHistory) *QueryService {
	return &QueryService{state: state, db: db, payouts: payouts}
}

// view runs fn and reports the sequence the read observed
func (qs *QueryService) view(fn func(r store.Reader) error) (uint64, error) {
	var seq uint64
	err := qs.state.View(func(r store.Reader) error {
		seq = qs.state.Sequence()
		return fn(r)
	})
	return seq, err
}

func (qs *QueryService) Head(ctx context.Context) (*HeadResponse, error) {
	var resp HeadResponse
	_, err := qs.view(func(store.Reader) error {
		resp.Sequence = qs.state.Sequence()
		h := qs.state.StateHash()
		resp.StateHash = hex.EncodeToString(h[:])
		return nil
	})
	stats := qs.state.Stats()
	resp.StaleByHeight = stats.StaleByHeight
	resp.StaleByTime = stats.StaleByTime
	resp.DedupCached = stats.DedupCached
	return &resp, err
}

// === Staking ===

func (qs *QueryService) Stakers(ctx context.Context) (*StakersResponse, error) {
	var resp StakersResponse
	seq, err := qs.view(func(r store.Reader) error {
		stakers, err := qs.state.Staking().Ledger().Stakers(r)
		resp.Stakers = stakers
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Stakers == nil {
		resp.Stakers = []string{}
	}
	resp.AsOfSequence = seq
	return &resp, nil
}

// ClaimEstimate previews the reward staker could claim at block time at
func (qs *QueryService) ClaimEstimate(ctx context.Context, staker string, at uint64) (*ClaimEstimateResponse, error) {
	if staker == "" {
		return nil, fmt.Errorf("staker is required: %w", dexerr.ErrInvalidInput)
	}
	var reward *uint256.Int
	seq, err := qs.view(func(r store.Reader) error {
		var err error
		reward, err = qs.state.Staking().EstimateClaim(r, staker, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ClaimEstimateResponse{Staker: staker, At: at, Reward: reward.Dec(), AsOfSequence: seq}, nil
}

func (qs *QueryService) StakingConfig(ctx context.Context) (*StakingConfigResponse, error) {
	var resp StakingConfigResponse
	_, err := qs.view(func(r store.Reader) error {
		l := qs.state.Staking().Ledger()
		cfg, err := l.Config(r)
		if err != nil {
			return err
		}
		last, err := l.LastAccrual(r)
		if err != nil {
			return err
		}
		total, err := l.TotalStaked(r)
		if err != nil {
			return err
		}
		resp = StakingConfigResponse{
			DailyRewardAmount: cfg.DailyRewardAmount.Dec(),
			RewardToken:       cfg.RewardToken,
			LPToken:           cfg.LPToken,
			Formula:           string(cfg.Formula),
			LastAccrual:       last,
			TotalStaked:       total.Dec(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// === Factory ===

func (qs *QueryService) FactoryConfig(ctx context.Context) (*FactoryConfigResponse, error) {
	var resp FactoryConfigResponse
	_, err := qs.view(func(r store.Reader) error {
		cfg, err := qs.state.Registry().Config(r)
		if err != nil {
			return err
		}
		s := cfg.AMMSettings
		resp = FactoryConfigResponse{
			PairCodeID:           cfg.PairContract.ID,
			PairCodeHash:         cfg.PairContract.CodeHash,
			LPFee:                FeeResponse{Num: s.LPFee.Num, Denom: s.LPFee.Denom},
			ProtocolFee:          FeeResponse{Num: s.ProtocolFee.Num, Denom: s.ProtocolFee.Denom},
			ProtocolFeeRecipient: s.ProtocolFeeRecipient,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPairs pages through registered pairs. limit 0 means the default page.
func (qs *QueryService) ListPairs(ctx context.Context, start uint64, limit uint8) (*PairsResponse, error) {
	page := factory.Pagination{Start: start, Limit: clampPage(limit)}
	var resp PairsResponse
	seq, err := qs.view(func(r store.Reader) error {
		pairs, err := qs.state.Registry().ListPairs(r, page)
		if err != nil {
			return err
		}
		total, err := qs.state.Registry().PairCount(r)
		resp.Pairs, resp.Total = pairs, total
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Pairs == nil {
		resp.Pairs = []amm.Pair{}
	}
	resp.AsOfSequence = seq
	return &resp, nil
}

func (qs *QueryService) PairAddress(ctx context.Context, pair amm.TokenPair) (*PairAddressResponse, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	var addr string
	_, err := qs.view(func(r store.Reader) error {
		var err error
		addr, err = qs.state.Registry().AddressForPair(r, pair)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PairAddressResponse{Pair: pair, Address: addr}, nil
}

func (qs *QueryService) Admin(ctx context.Context) (*AdminResponse, error) {
	var resp AdminResponse
	_, err := qs.view(func(r store.Reader) error {
		var err error
		resp.Admin, err = admin.Load(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// === Pools ===

// EstimateSwap quotes an offer without changing the pool
func (qs *QueryService) EstimateSwap(ctx context.Context, pool, offerToken string, offer *uint256.Int) (*SwapEstimateResponse, error) {
	if offer == nil {
		return nil, fmt.Errorf("offer amount is required: %w", dexerr.ErrInvalidInput)
	}
	var resp *SwapEstimateResponse
	_, err := qs.view(func(r store.Reader) error {
		info, err := amm.Estimate(r, pool, offerToken, offer)
		if err != nil {
			return err
		}
		resp = &SwapEstimateResponse{
			Pool:         pool,
			OfferToken:   offerToken,
			OfferAmount:  offer.Dec(),
			ReturnAmount: info.Result.ReturnAmount.Dec(),
			SpreadAmount: info.Result.SpreadAmount.Dec(),
			LPFee:        info.Settlement.LPFee.Dec(),
			ProtocolFee:  info.Settlement.ProtocolFee.Dec(),
			TotalFee:     info.Settlement.TotalFee().Dec(),
			SpotPrice:    fpmath.FormatDecimal(info.SpotPrice),
			Price:        fpmath.FormatDecimal(info.Price),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (qs *QueryService) Trades(ctx context.Context, pool string, start uint64, limit uint8) (*TradesResponse, error) {
	resp := TradesResponse{Pool: pool, Trades: []TradeResponse{}}
	_, err := qs.view(func(r store.Reader) error {
		if _, err := amm.LoadPool(r, pool); err != nil {
			return err
		}
		count, err := amm.TradeCount(r, pool)
		if err != nil {
			return err
		}
		resp.Count = count
		trades, err := amm.Trades(r, pool, start, clampPage(limit))
		if err != nil {
			return err
		}
		for _, t := range trades {
			resp.Trades = append(resp.Trades, TradeResponse{
				Price:       fpmath.FormatDecimal(t.Price),
				Amount:      t.Amount.Dec(),
				Timestamp:   t.Timestamp,
				Direction:   t.Direction,
				TotalFee:    t.TotalFee.Dec(),
				LPFee:       t.LPFee.Dec(),
				ProtocolFee: t.ProtocolFee.Dec(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func clampPage(limit uint8) uint8 {
	switch {
	case limit == 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
