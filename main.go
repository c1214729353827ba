package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"github.com/chainbound/scatter/caller"
	"github.com/chainbound/scatter/callset"
	"github.com/chainbound/scatter/chains"
	"github.com/chainbound/scatter/db"
	"github.com/chainbound/scatter/log"
	"github.com/chainbound/scatter/output"
	"github.com/chainbound/scatter/scanner"
	"github.com/chainbound/scatter/types"

	"github.com/urfave/cli/v2"
)

func main() {
	var opts types.ScatterOpts

	app := &cli.App{
		Name:  "scatter",
		Usage: "Batched on-chain reads across block history",
		Flags: BuildFlags(&opts),
		Action: func(c *cli.Context) error {
			return Run(opts)
		},
	}

	if err := app.Run(os.Args); err != nil {
		stdlog.Fatal(err)
	}
}

func Run(opts types.ScatterOpts) error {
	log.SetGlobalLevel(opts.LogLevel)
	logger := log.NewLogger("scatter")

	cfg, err := NewConfig("config.yml")
	if err != nil {
		return err
	}

	if opts.Chains != "" {
		if err := chains.LoadOverrides(opts.Chains); err != nil {
			return err
		}
	}

	cs, err := callset.Parse(opts.Callset)
	if err != nil {
		return err
	}

	chain := types.Chain(opts.Chain)
	if chain == "" {
		chain = cs.Chain
	}

	endpoints, ok := cfg.Rpc[chain]
	if !ok || len(endpoints) == 0 {
		return fmt.Errorf("no rpc endpoints defined for chain %s", chain)
	}

	scanCfg := scanner.Config{
		Chain: chain,
		Dialer: caller.Dialer{
			Chain:             chain,
			Endpoints:         endpoints,
			RequestsPerSecond: opts.RateLimit,
		},
		Caller: caller.Config{Strict: opts.Strict},
	}

	out := output.NewOutputHandler()

	if opts.Stdout {
		out = out.WithStdOut()
	}

	if opts.Csv {
		out, err = out.WithCsv("results.csv")
		if err != nil {
			return err
		}
	}

	ctx := context.Background()

	if opts.Db {
		pdb, err := db.NewDB(cfg.DbSettings).Connect()
		if err != nil {
			return err
		}

		if err := pdb.CreateTable(ctx); err != nil {
			return err
		}

		out = out.WithDB(pdb)
	}

	calls := cs.Calls()
	logger.Info().Str("chain", string(chain)).Int("calls", len(calls)).Msg("loaded callset")

	// Historical range scan with start/end blocks, latest-block point
	// read otherwise.
	if opts.StartBlock != 0 && opts.EndBlock != 0 {
		results := scanner.Scan(ctx, scanCfg, calls,
			uint64(opts.StartBlock), uint64(opts.EndBlock), uint64(opts.Interval),
			opts.Workers, time.Duration(opts.Timeout)*time.Second)

		for combined := range results {
			if combined.Err != nil {
				return combined.Err
			}

			for _, res := range combined.Results {
				if err := out.HandleResult(ctx, chain, res); err != nil {
					return err
				}
			}
		}

		return nil
	}

	results := scanner.ScanChunked(ctx, scanCfg, calls, nil, opts.Workers, opts.ChunkSize, false)
	for res := range results {
		if res.Err != nil {
			return res.Err
		}

		if err := out.HandleResult(ctx, chain, res); err != nil {
			return err
		}
	}

	return nil
}
