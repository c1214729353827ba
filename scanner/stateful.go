package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chainbound/scatter/log"
	"github.com/chainbound/scatter/types"
)

var ErrMissingState = errors.New("stateful scan requires a state for every call")

// StatefulCall pairs a call with its caller-owned adaptive state.
type StatefulCall struct {
	Call  types.Call
	State types.CallState
}

type StatefulOptions struct {
	// ChunkSize is how many blocks of pending tasks accumulate before a
	// flush to the worker pool. Larger chunks trade state freshness for
	// throughput.
	ChunkSize int

	MaxWorkers int
	Timeout    time.Duration

	// ForceFirstRead includes every call at the first scanned block
	// regardless of its state's predicate, so a state stuck in a
	// "never invoke again" condition gets one fresh read per run.
	ForceFirstRead bool

	PrefetchConcurrency int
}

func DefaultStatefulOptions() StatefulOptions {
	return StatefulOptions{
		ChunkSize:           8,
		MaxWorkers:          defaultWorkers,
		ForceFirstRead:      true,
		PrefetchConcurrency: defaultPrefetchConcurrency,
	}
}

// ScanStateful walks [start, end) strictly in block order, consulting
// each call's state before including it in a block's batch. Predicates
// run only on this scheduling loop, never inside a worker, so state
// implementations need no locking. Results come back in block order,
// each with its originating state re-attached.
func ScanStateful(ctx context.Context, cfg Config, calls []StatefulCall, start, end, step uint64, opts StatefulOptions) <-chan types.CombinedResult {
	out := make(chan types.CombinedResult)
	logger := log.NewLogger("scanner")

	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if opts.ChunkSize <= 0 {
			opts.ChunkSize = DefaultStatefulOptions().ChunkSize
		}

		states := make(map[types.CallKey]types.CallState, len(calls))
		for _, sc := range calls {
			if sc.State == nil {
				send(ctx, out, types.CombinedResult{Err: fmt.Errorf("%w: %s@%s", ErrMissingState, sc.Call.FuncName, sc.Call.Address.Hex())})
				return
			}
			states[sc.Call.Key()] = sc.State
		}

		blocks := blockRange(start, end, step)
		if len(blocks) == 0 {
			return
		}

		logger.Info().Str("chain", string(cfg.Chain)).
			Uint64("start_block", start).Uint64("end_block", end).Uint64("step", step).
			Int("calls", len(calls)).Int("chunk_size", opts.ChunkSize).Msg("starting stateful scan")

		sched, err := cfg.Dialer.Connect(ctx, 0)
		if err != nil {
			send(ctx, out, types.CombinedResult{Err: err})
			return
		}
		defer sched.Close()

		timestamps, err := PrefetchTimestamps(ctx, sched, blocks, opts.PrefetchConcurrency)
		if err != nil {
			send(ctx, out, types.CombinedResult{Err: err})
			return
		}

		// One pool for the whole scan, so worker connections survive
		// across flushes.
		tasks := make(chan types.Task)
		results := make(chan taskResult)
		runPool(ctx, cfg, tasks, results, opts.MaxWorkers, opts.Timeout)

		// Only close tasks once every feeder has stopped sending.
		var feeders sync.WaitGroup
		defer func() {
			cancel()
			feeders.Wait()
			close(tasks)
		}()

		var buffer []types.Task

		flush := func() bool {
			if len(buffer) == 0 {
				return true
			}

			pending := buffer
			buffer = nil

			feeders.Add(1)
			go func() {
				defer feeders.Done()
				for _, task := range pending {
					select {
					case tasks <- task:
					case <-ctx.Done():
						return
					}
				}
			}()

			collected := make([]taskResult, 0, len(pending))
			var fatal error
			for i := 0; i < len(pending); i++ {
				select {
				case res := <-results:
					if res.err != nil && fatal == nil {
						fatal = res.err
					}
					collected = append(collected, res)
				case <-ctx.Done():
					return false
				}
			}

			if fatal != nil {
				logger.Error().Err(fatal).Msg("stateful scan aborted")
				send(ctx, out, types.CombinedResult{Err: fatal})
				return false
			}

			sort.Slice(collected, func(i, j int) bool {
				return collected[i].task.Block < collected[j].task.Block
			})

			for _, res := range collected {
				for i := range res.results {
					res.results[i].State = states[res.results[i].Call.Key()]
				}

				combined := types.CombinedResult{
					Block:     res.task.Block,
					Timestamp: res.timestamp,
					Results:   res.results,
				}
				if !send(ctx, out, combined) {
					return false
				}
			}

			return true
		}

		first := true
		for _, block := range blocks {
			ts := timestamps[block]

			var included []types.Call
			for _, sc := range calls {
				if (first && opts.ForceFirstRead) || sc.State.ShouldInvoke(sc.Call, block, ts) {
					included = append(included, sc.Call)
				}
			}
			first = false

			if len(included) > 0 {
				buffer = append(buffer, types.Task{
					ID:            nextTaskID(),
					Chain:         cfg.Chain,
					Block:         block,
					Calls:         included,
					RequireResult: cfg.Caller.Strict,
					Timestamp:     ts,
				})
			}

			if len(buffer) >= opts.ChunkSize {
				if !flush() {
					return
				}
			}
		}

		flush()
	}()

	return out
}
