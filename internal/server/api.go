package server

import (
	"DexLedger/internal/amm"
	"encoding/json"
)

// Request and response messages of the Ledger service

type Empty struct{}

type SubmitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Result json.RawMessage `json:"result"`
}

type ClaimEstimateRequest struct {
	Staker string `json:"staker"`
	At     uint64 `json:"at"`
}

type PageRequest struct {
	Start uint64 `json:"start"`
	Limit uint8  `json:"limit"`
}

type PairAddressRequest struct {
	Pair amm.TokenPair `json:"pair"`
}

type EstimateSwapRequest struct {
	Pool        string `json:"pool"`
	OfferToken  string `json:"offer_token"`
	OfferAmount string `json:"offer_amount"`
}

type TradesRequest struct {
	Pool  string `json:"pool"`
	Start uint64 `json:"start"`
	Limit uint8  `json:"limit"`
}

type PayoutHistoryRequest struct {
	Staker string `json:"staker"`
	Limit  int    `json:"limit"`
}

type BalancesRequest struct {
	Account string `json:"account"`
}

type RebuildResponse struct {
	Rebuilt bool `json:"rebuilt"`
}
