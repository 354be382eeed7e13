package query

import "DexLedger/internal/amm"

// Amounts are base-10 strings; prices are 18-decimal strings.

type HeadResponse struct {
	Sequence  uint64 `json:"sequence"`
	StateHash string `json:"state_hash"`

	// since process start
	StaleByHeight int64 `json:"stale_by_height"`
	StaleByTime   int64 `json:"stale_by_time"`
	DedupCached   int   `json:"dedup_cached"`
}

type StakersResponse struct {
	Stakers      []string `json:"stakers"`
	AsOfSequence uint64   `json:"as_of_sequence"`
}

type ClaimEstimateResponse struct {
	Staker       string `json:"staker"`
	At           uint64 `json:"at"`
	Reward       string `json:"reward"`
	AsOfSequence uint64 `json:"as_of_sequence"`
}

type StakingConfigResponse struct {
	DailyRewardAmount string `json:"daily_reward_amount"`
	RewardToken       string `json:"reward_token"`
	LPToken           string `json:"lp_token"`
	Formula           string `json:"formula"`
	LastAccrual       uint64 `json:"last_accrual"`
	TotalStaked       string `json:"total_staked"`
}

type FeeResponse struct {
	Num   uint8  `json:"nom"`
	Denom uint16 `json:"denom"`
}

type FactoryConfigResponse struct {
	PairCodeID           uint64      `json:"pair_code_id"`
	PairCodeHash         string      `json:"pair_code_hash"`
	LPFee                FeeResponse `json:"lp_fee"`
	ProtocolFee          FeeResponse `json:"protocol_fee"`
	ProtocolFeeRecipient string      `json:"protocol_fee_recipient"`
}

type PairsResponse struct {
	Pairs        []amm.Pair `json:"pairs"`
	Total        uint64     `json:"total"`
	AsOfSequence uint64     `json:"as_of_sequence"`
}

type PairAddressResponse struct {
	Pair    amm.TokenPair `json:"pair"`
	Address string        `json:"address"`
}

type SwapEstimateResponse struct {
	Pool         string `json:"pool"`
	OfferToken   string `json:"offer_token"`
	OfferAmount  string `json:"offer_amount"`
	ReturnAmount string `json:"return_amount"`
	SpreadAmount string `json:"spread_amount"`
	LPFee        string `json:"lp_fee"`
	ProtocolFee  string `json:"protocol_fee"`
	TotalFee     string `json:"total_fee"`
	SpotPrice    string `json:"spot_price"`
	Price        string `json:"price"`
}

type TradeResponse struct {
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Timestamp   uint64 `json:"timestamp"`
	Direction   string `json:"direction"`
	TotalFee    string `json:"total_fee"`
	LPFee       string `json:"lp_fee"`
	ProtocolFee string `json:"protocol_fee"`
}

type TradesResponse struct {
	Pool   string          `json:"pool"`
	Count  uint64          `json:"count"`
	Trades []TradeResponse `json:"trades"`
}

type AdminResponse struct {
	Admin string `json:"admin"`
}

// --- projection-backed ---

type PayoutResponse struct {
	Sequence  uint64 `json:"sequence"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	BlockTime uint64 `json:"block_time"`
}

type PayoutHistoryResponse struct {
	Staker  string           `json:"staker"`
	Payouts []PayoutResponse `json:"payouts"`
}

type BalanceEntry struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"` // signed
}

type BalancesResponse struct {
	Balances     []BalanceEntry `json:"balances"`
	AsOfSequence uint64         `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []uint64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose projected balances do not sum to zero
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance string `json:"imbalance"`
}
