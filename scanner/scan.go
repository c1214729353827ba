package scanner

import (
	"context"
	"time"

	"github.com/chainbound/scatter/log"
	"github.com/chainbound/scatter/types"
)

// Scan reads the full call list at every block in [start, end) with
// stride step, across maxWorkers parallel workers. Results are streamed
// in task-completion order, not block order; callers that need block
// order sort externally.
//
// A fatal task failure is delivered as a CombinedResult with Err set,
// after which the channel closes and the scan is over: a scan never
// silently skips blocks.
func Scan(ctx context.Context, cfg Config, calls []types.Call, start, end, step uint64, maxWorkers int, timeout time.Duration) <-chan types.CombinedResult {
	out := make(chan types.CombinedResult)
	logger := log.NewLogger("scanner")

	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if step == 0 {
			step = 1
		}

		logger.Info().Str("chain", string(cfg.Chain)).
			Uint64("start_block", start).Uint64("end_block", end).Uint64("step", step).
			Int("calls", len(calls)).Int("workers", maxWorkers).Msg("starting historical scan")

		tasks := make(chan types.Task)
		results := make(chan taskResult)
		runPool(ctx, cfg, tasks, results, maxWorkers, timeout)

		go func() {
			defer close(tasks)
			for block := start; block < end; block += step {
				task := types.Task{
					ID:            nextTaskID(),
					Chain:         cfg.Chain,
					Block:         block,
					Calls:         calls,
					RequireResult: cfg.Caller.Strict,
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
				logger.Error().Uint64("block", res.task.Block).Err(res.err).Msg("scan aborted")
				send(ctx, out, types.CombinedResult{Err: res.err, Block: res.task.Block})
				return
			}

			combined := types.CombinedResult{
				Block:     res.task.Block,
				Timestamp: res.timestamp,
				Results:   res.results,
			}

			if !send(ctx, out, combined) {
				return
			}
		}
	}()

	return out
}

func send(ctx context.Context, out chan<- types.CombinedResult, res types.CombinedResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
