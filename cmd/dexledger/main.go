package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config file",
		EnvVars: []string{"DEX_CONFIG"},
	}
	addrFlag = &cli.StringFlag{
		Name:    "addr",
		Usage:   "gRPC address of a running ledger",
		Value:   "localhost:9090",
		EnvVars: []string{"DEX_QUERY_ADDR"},
	}
)

func main() {
	app := &cli.App{
		Name:  "dexledger",
		Usage: "DEX staking, fee settlement and pair registry ledger",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			runCommand,
			initCommand,
			submitCommand,
			queryCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dexledger:", err)
		os.Exit(1)
	}
}
