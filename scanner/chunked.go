package scanner

import (
	"context"
	"math/big"
	"time"

	"github.com/chainbound/scatter/log"
	"github.com/chainbound/scatter/types"
)

// ScanChunked reads every call at the same block (nil for latest),
// partitioning the call list into chunks of chunkSize dispatched in
// parallel. There is no ordering guarantee between chunks; callers key
// results by call identity, not position.
//
// When timestamped is false the one-time block-timestamp lookup is
// skipped and results carry wall-clock time instead, which is what
// latest-block point-reads want.
func ScanChunked(ctx context.Context, cfg Config, calls []types.Call, blockNumber *big.Int, maxWorkers, chunkSize int, timestamped bool) <-chan types.CallResult {
	out := make(chan types.CallResult)
	logger := log.NewLogger("scanner")

	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if chunkSize <= 0 {
			chunkSize = defaultChunkSize
		}

		latest := blockNumber == nil
		var block uint64
		if !latest {
			block = blockNumber.Uint64()
		}

		timestamp := time.Now().UTC()
		if timestamped {
			sched, err := cfg.Dialer.Connect(ctx, 0)
			if err != nil {
				sendResult(ctx, out, types.CallResult{Err: err})
				return
			}

			timestamp, err = sched.BlockTimestamp(ctx, blockNumber)
			sched.Close()
			if err != nil {
				sendResult(ctx, out, types.CallResult{Err: err})
				return
			}
		}

		logger.Debug().Str("chain", string(cfg.Chain)).Uint64("block", block).Bool("latest", latest).
			Int("calls", len(calls)).Int("chunk_size", chunkSize).Msg("starting chunked read")

		tasks := make(chan types.Task)
		results := make(chan taskResult)
		runPool(ctx, cfg, tasks, results, maxWorkers, 0)

		go func() {
			defer close(tasks)
			for start := 0; start < len(calls); start += chunkSize {
				end := start + chunkSize
				if end > len(calls) {
					end = len(calls)
				}

				task := types.Task{
					ID:            nextTaskID(),
					Chain:         cfg.Chain,
					Block:         block,
					Latest:        latest,
					Calls:         calls[start:end],
					RequireResult: cfg.Caller.Strict,
					Timestamp:     timestamp,
				}

				select {
				case tasks <- task:
				case <-ctx.Done():
					return
				}
			}
		}()

		for res := range results {
			if res.err != nil {
				logger.Error().Err(res.err).Msg("chunked read aborted")
				sendResult(ctx, out, types.CallResult{Err: res.err})
				return
			}

			for _, r := range res.results {
				if !sendResult(ctx, out, r) {
					return
				}
			}
		}
	}()

	return out
}

func sendResult(ctx context.Context, out chan<- types.CallResult, res types.CallResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
