package amm

import (
	"DexLedger/internal/dexerr"
	"DexLedger/internal/fees"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/store"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	prefixPool       = "pool:"
	prefixTrade      = "trade:"
	prefixTradeCount = "trade_count:"

	DirectionSell = "Sell" // offer token0 for token1
	DirectionBuy  = "Buy"  // offer token1 for token0
)

func poolKey(addr string) string       { return prefixPool + addr }
func tradeCountKey(addr string) string { return prefixTradeCount + addr }
func tradeKey(addr string, n uint64) string {
	// zero-padded so keys sort by trade number
	return fmt.Sprintf("%s%s:%020d", prefixTrade, addr, n)
}

// Pool is a constant-product pool's reserves and fee schedule
type Pool struct {
	Address    string
	Pair       TokenPair
	Reserve0   *uint256.Int
	Reserve1   *uint256.Int
	Fees       fees.Schedule
	TradeCount uint64
}

// reserves returns (reserveIn, reserveOut) for an offer of token
func (p *Pool) reserves(offerToken string) (in, out *uint256.Int, err error) {
	switch offerToken {
	case p.Pair.Token0:
		return p.Reserve0, p.Reserve1, nil
	case p.Pair.Token1:
		return p.Reserve1, p.Reserve0, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownToken, offerToken)
}

// Trade is one entry of a pool's trade history
type Trade struct {
	Price       *uint256.Int // Decimal
	Amount      *uint256.Int // offer amount
	Timestamp   uint64
	Direction   string
	TotalFee    *uint256.Int
	LPFee       *uint256.Int
	ProtocolFee *uint256.Int
}

type poolJSON struct {
	Address    string        `json:"address"`
	Pair       TokenPair     `json:"pair"`
	Reserve0   string        `json:"amount_0"`
	Reserve1   string        `json:"amount_1"`
	Fees       fees.Schedule `json:"fees"`
	TradeCount uint64        `json:"trade_count"`
}

type tradeJSON struct {
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Timestamp   uint64 `json:"timestamp"`
	Direction   string `json:"direction"`
	TotalFee    string `json:"total_fee_amount"`
	LPFee       string `json:"lp_fee_amount"`
	ProtocolFee string `json:"shade_dao_fee_amount"`
}

func parseStored(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", field, s, dexerr.ErrCorruptRecord)
	}
	return v, nil
}

// === Pool records ===

func LoadPool(r store.Reader, addr string) (*Pool, error) {
	var j poolJSON
	found, err := store.LoadJSON(r, poolKey(addr), &j)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
	}
	r0, err := parseStored("amount_0", j.Reserve0)
	if err != nil {
		return nil, err
	}
	r1, err := parseStored("amount_1", j.Reserve1)
	if err != nil {
		return nil, err
	}
	return &Pool{
		Address:    j.Address,
		Pair:       j.Pair,
		Reserve0:   r0,
		Reserve1:   r1,
		Fees:       j.Fees,
		TradeCount: j.TradeCount,
	}, nil
}

func savePool(w store.Writer, p *Pool) error {
	return store.SaveJSON(w, poolKey(p.Address), poolJSON{
		Address:    p.Address,
		Pair:       p.Pair,
		Reserve0:   p.Reserve0.Dec(),
		Reserve1:   p.Reserve1.Dec(),
		Fees:       p.Fees,
		TradeCount: p.TradeCount,
	})
}

// CreatePool opens an empty pool for pair at addr
func CreatePool(rw store.ReadWriter, addr string, pair TokenPair, schedule fees.Schedule) (*Pool, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty pool address", dexerr.ErrInvalidInput)
	}
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if _, err := rw.Get(poolKey(addr)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, addr)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p := &Pool{
		Address:  addr,
		Pair:     pair,
		Reserve0: new(uint256.Int),
		Reserve1: new(uint256.Int),
		Fees:     schedule,
	}
	return p, savePool(rw, p)
}

// AddLiquidity deposits amount0 of Token0 and amount1 of Token1
func AddLiquidity(rw store.ReadWriter, addr string, amount0, amount1 *uint256.Int) (*Pool, error) {
	if amount0.IsZero() && amount1.IsZero() {
		return nil, fmt.Errorf("amm: empty deposit: %w", dexerr.ErrInvalidAmount)
	}
	p, err := LoadPool(rw, addr)
	if err != nil {
		return nil, err
	}
	if p.Reserve0, err = addReserve(p.Reserve0, amount0); err != nil {
		return nil, err
	}
	if p.Reserve1, err = addReserve(p.Reserve1, amount1); err != nil {
		return nil, err
	}
	return p, savePool(rw, p)
}

func addReserve(reserve, amount *uint256.Int) (*uint256.Int, error) {
	sum, err := fpmath.CheckedAdd(reserve, amount)
	if err != nil {
		return nil, err
	}
	return sum, fpmath.RequireUint128(sum)
}

// === Swaps ===

// SwapOutcome is everything a settled swap produced
type SwapOutcome struct {
	Pool       *Pool
	Info       *fees.SwapInfo
	OfferToken string
	AskToken   string
	Trade      Trade
}

// Estimate quotes an offer against the pool without changing it
func Estimate(r store.Reader, addr, offerToken string, offer *uint256.Int) (*fees.SwapInfo, error) {
	p, err := LoadPool(r, addr)
	if err != nil {
		return nil, err
	}
	in, out, err := p.reserves(offerToken)
	if err != nil {
		return nil, err
	}
	return fees.Quote(offer, in, out, p.Fees)
}

// Swap settles offer of offerToken against the pool. The LP fee stays in
// the pool; the protocol fee leaves it.
func Swap(rw store.ReadWriter, addr, offerToken string, offer, expectedReturn *uint256.Int, now uint64) (*SwapOutcome, error) {
	if offer == nil || offer.IsZero() {
		return nil, fmt.Errorf("amm: offer must be positive: %w", dexerr.ErrInvalidAmount)
	}
	p, err := LoadPool(rw, addr)
	if err != nil {
		return nil, err
	}
	in, out, err := p.reserves(offerToken)
	if err != nil {
		return nil, err
	}

	info, err := fees.Quote(offer, in, out, p.Fees)
	if err != nil {
		return nil, err
	}
	if err := fees.CheckSlippage(info, expectedReturn); err != nil {
		return nil, err
	}

	newIn, err := addReserve(in, new(uint256.Int).Sub(offer, info.Settlement.ProtocolFee))
	if err != nil {
		return nil, err
	}
	// Quote keeps the return strictly below the out reserve
	newOut := new(uint256.Int).Sub(out, info.Result.ReturnAmount)

	ask, _ := p.Pair.Other(offerToken)
	direction := DirectionSell
	if offerToken == p.Pair.Token0 {
		p.Reserve0, p.Reserve1 = newIn, newOut
	} else {
		p.Reserve1, p.Reserve0 = newIn, newOut
		direction = DirectionBuy
	}

	trade := Trade{
		Price:       info.Price,
		Amount:      new(uint256.Int).Set(offer),
		Timestamp:   now,
		Direction:   direction,
		TotalFee:    info.Settlement.TotalFee(),
		LPFee:       info.Settlement.LPFee,
		ProtocolFee: info.Settlement.ProtocolFee,
	}
	p.TradeCount++
	if err := saveTrade(rw, p.Address, p.TradeCount, trade); err != nil {
		return nil, err
	}
	if err := savePool(rw, p); err != nil {
		return nil, err
	}

	return &SwapOutcome{
		Pool:       p,
		Info:       info,
		OfferToken: offerToken,
		AskToken:   ask,
		Trade:      trade,
	}, nil
}

// === Trade history ===

func saveTrade(w store.Writer, addr string, n uint64, t Trade) error {
	if err := store.SaveJSON(w, tradeKey(addr, n), tradeJSON{
		Price:       t.Price.Dec(),
		Amount:      t.Amount.Dec(),
		Timestamp:   t.Timestamp,
		Direction:   t.Direction,
		TotalFee:    t.TotalFee.Dec(),
		LPFee:       t.LPFee.Dec(),
		ProtocolFee: t.ProtocolFee.Dec(),
	}); err != nil {
		return err
	}
	return store.SaveJSON(w, tradeCountKey(addr), n)
}

// TradeCount returns how many trades the pool has settled
func TradeCount(r store.Reader, addr string) (uint64, error) {
	var n uint64
	if _, err := store.LoadJSON(r, tradeCountKey(addr), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Trades returns up to limit trades starting after the first start trades,
// oldest first.
func Trades(r store.Reader, addr string, start uint64, limit uint8) ([]Trade, error) {
	count, err := TradeCount(r, addr)
	if err != nil {
		return nil, err
	}
	var out []Trade
	for n := start + 1; n <= count && len(out) < int(limit); n++ {
		var j tradeJSON
		found, err := store.LoadJSON(r, tradeKey(addr, n), &j)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("trade %d of %s missing: %w", n, addr, dexerr.ErrCorruptRecord)
		}
		t, err := decodeTrade(j)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTrade(j tradeJSON) (Trade, error) {
	t := Trade{Timestamp: j.Timestamp, Direction: j.Direction}
	var err error
	if t.Price, err = parseStored("price", j.Price); err != nil {
		return t, err
	}
	if t.Amount, err = parseStored("amount", j.Amount); err != nil {
		return t, err
	}
	if t.TotalFee, err = parseStored("total_fee_amount", j.TotalFee); err != nil {
		return t, err
	}
	if t.LPFee, err = parseStored("lp_fee_amount", j.LPFee); err != nil {
		return t, err
	}
	if t.ProtocolFee, err = parseStored("shade_dao_fee_amount", j.ProtocolFee); err != nil {
		return t, err
	}
	return t, nil
}
