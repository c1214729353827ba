package main

import (
	"github.com/chainbound/scatter/types"

	"github.com/urfave/cli/v2"
)

func BuildFlags(opts *types.ScatterOpts) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "chain",
			Aliases:     []string{"c"},
			Usage:       "The chain name (defaults to the callset's chain)",
			Destination: &opts.Chain,
		},
		&cli.StringFlag{
			Name:        "callset",
			Usage:       "Path to the callset `FILE`",
			Value:       "calls.hcl",
			Destination: &opts.Callset,
		},
		&cli.StringFlag{
			Name:        "chains",
			Usage:       "Path to a chain overrides `FILE`",
			Destination: &opts.Chains,
		},
		&cli.Int64Flag{
			Name:        "start-block",
			Aliases:     []string{"s"},
			Usage:       "Starting block number for historical analysis",
			Destination: &opts.StartBlock,
		},
		&cli.Int64Flag{
			Name:        "end-block",
			Aliases:     []string{"e"},
			Usage:       "End block number for historical analysis",
			Destination: &opts.EndBlock,
		},
		&cli.Int64Flag{
			Name:        "interval",
			Aliases:     []string{"i"},
			Usage:       "Block interval between reads",
			Value:       1,
			Destination: &opts.Interval,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"w"},
			Usage:       "Number of parallel workers",
			Value:       4,
			Destination: &opts.Workers,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Calls per task for latest-block reads",
			Value:       100,
			Destination: &opts.ChunkSize,
		},
		&cli.Int64Flag{
			Name:        "timeout",
			Usage:       "Per-task timeout in `SECONDS`",
			Value:       60,
			Destination: &opts.Timeout,
		},
		&cli.IntFlag{
			Name:        "rate-limit",
			Usage:       "Requests per second per connection (0 = unlimited)",
			Destination: &opts.RateLimit,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "Treat empty payloads on successful calls as corrupted node responses",
			Destination: &opts.Strict,
		},
		&cli.BoolFlag{
			Name:        "db",
			Usage:       "Save results in database",
			Destination: &opts.Db,
		},
		&cli.BoolFlag{
			Name:        "csv",
			Usage:       "Save results in csv file",
			Destination: &opts.Csv,
		},
		&cli.BoolFlag{
			Name:        "stdout",
			Usage:       "Print to stdout",
			Destination: &opts.Stdout,
		},
		&cli.IntFlag{
			Name:        "log-level",
			Usage:       "log level from -1 to 5",
			Value:       1,
			Destination: &opts.LogLevel,
		},
	}
}
