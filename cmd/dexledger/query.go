package main

import (
	"DexLedger/internal/amm"
	"DexLedger/internal/query"
	"DexLedger/internal/server"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

const callTimeout = 10 * time.Second

var (
	submitCommand = &cli.Command{
		Name:      "submit",
		Usage:     "Submit one action to a running ledger",
		ArgsUsage: "<type> <payload.json|->",
		Flags:     []cli.Flag{addrFlag},
		Action:    submitAction,
	}
	atFlag = &cli.Uint64Flag{
		Name:  "at",
		Usage: "block time to estimate at (unix seconds, default now)",
	}
	startFlag = &cli.Uint64Flag{Name: "start", Usage: "first index of the page"}
	limitFlag = &cli.UintFlag{Name: "limit", Usage: "page size"}

	queryCommand = &cli.Command{
		Name:  "query",
		Usage: "Query a running ledger",
		Flags: []cli.Flag{addrFlag},
		Subcommands: []*cli.Command{
			{
				Name:  "head",
				Usage: "Last applied sequence and state hash",
				Action: func(c *cli.Context) error {
					return call(c, "Head", &server.Empty{}, &query.HeadResponse{})
				},
			},
			{
				Name:  "stakers",
				Usage: "Addresses with an open stake position",
				Action: func(c *cli.Context) error {
					return call(c, "Stakers", &server.Empty{}, &query.StakersResponse{})
				},
			},
			{
				Name:      "claim",
				Usage:     "Reward a staker could claim",
				ArgsUsage: "<staker>",
				Flags:     []cli.Flag{atFlag},
				Action: func(c *cli.Context) error {
					at := c.Uint64(atFlag.Name)
					if at == 0 {
						at = uint64(time.Now().Unix())
					}
					req := &server.ClaimEstimateRequest{Staker: c.Args().First(), At: at}
					return call(c, "ClaimEstimate", req, &query.ClaimEstimateResponse{})
				},
			},
			{
				Name:      "payouts",
				Usage:     "Recent reward payouts of a staker",
				ArgsUsage: "<staker>",
				Flags:     []cli.Flag{limitFlag},
				Action: func(c *cli.Context) error {
					req := &server.PayoutHistoryRequest{Staker: c.Args().First(), Limit: int(c.Uint(limitFlag.Name))}
					return call(c, "PayoutHistory", req, &query.PayoutHistoryResponse{})
				},
			},
			{
				Name:  "staking-config",
				Usage: "Staking configuration and totals",
				Action: func(c *cli.Context) error {
					return call(c, "StakingConfig", &server.Empty{}, &query.StakingConfigResponse{})
				},
			},
			{
				Name:  "factory-config",
				Usage: "Pair code and fee schedule",
				Action: func(c *cli.Context) error {
					return call(c, "FactoryConfig", &server.Empty{}, &query.FactoryConfigResponse{})
				},
			},
			{
				Name:  "pairs",
				Usage: "Registered pairs",
				Flags: []cli.Flag{startFlag, limitFlag},
				Action: func(c *cli.Context) error {
					req := &server.PageRequest{Start: c.Uint64(startFlag.Name), Limit: uint8(c.Uint(limitFlag.Name))}
					return call(c, "ListPairs", req, &query.PairsResponse{})
				},
			},
			{
				Name:      "pair",
				Usage:     "Pool address of a token pair",
				ArgsUsage: "<token_0> <token_1>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("pair needs two tokens")
					}
					req := &server.PairAddressRequest{Pair: amm.TokenPair{Token0: c.Args().Get(0), Token1: c.Args().Get(1)}}
					return call(c, "PairAddress", req, &query.PairAddressResponse{})
				},
			},
			{
				Name:      "estimate",
				Usage:     "Swap simulation against a pool",
				ArgsUsage: "<pool> <offer_token> <amount>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("estimate needs pool, offer token and amount")
					}
					req := &server.EstimateSwapRequest{Pool: c.Args().Get(0), OfferToken: c.Args().Get(1), OfferAmount: c.Args().Get(2)}
					return call(c, "EstimateSwap", req, &query.SwapEstimateResponse{})
				},
			},
			{
				Name:  "admin",
				Usage: "Current admin address",
				Action: func(c *cli.Context) error {
					return call(c, "Admin", &server.Empty{}, &query.AdminResponse{})
				},
			},
			{
				Name:  "integrity",
				Usage: "Verify the hash chain and ledger balance",
				Action: func(c *cli.Context) error {
					return call(c, "VerifyIntegrity", &server.Empty{}, &query.IntegrityReport{})
				},
			},
		},
	}
)

func call(c *cli.Context, method string, req, resp interface{}) error {
	client, err := server.Dial(c.String(addrFlag.Name))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Context, callTimeout)
	defer cancel()
	if err := client.Call(ctx, method, req, resp); err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func submitAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: submit <type> <payload.json|->")
	}
	var (
		payload []byte
		err     error
	)
	if path := c.Args().Get(1); path == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	req := &server.SubmitRequest{Type: c.Args().Get(0), Payload: payload}
	return call(c, "Submit", req, &server.SubmitResponse{})
}
