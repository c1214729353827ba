// Package scanner schedules batched call tasks across a bounded pool of
// workers and streams the results back lazily. Each worker owns exactly
// one long-lived Caller (and with it one node connection), reused for
// every task routed to it.
package scanner

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainbound/scatter/caller"
	"github.com/chainbound/scatter/types"
)

const (
	defaultWorkers   = 4
	defaultChunkSize = 100
)

// Config carries everything a worker needs to build its caller.
type Config struct {
	Chain  types.Chain
	Dialer caller.Dialer
	Caller caller.Config
}

var taskID uint64

func nextTaskID() uint64 {
	return atomic.AddUint64(&taskID, 1)
}

type taskResult struct {
	task      types.Task
	timestamp time.Time
	results   []types.CallResult
	err       error
}

// runPool starts maxWorkers workers draining tasks into out. Workers
// build their caller on the first task, so no connection is dialed for a
// pool that never receives work. out is closed once tasks is closed and
// every worker has finished.
func runPool(ctx context.Context, cfg Config, tasks <-chan types.Task, out chan<- taskResult, maxWorkers int, timeout time.Duration) {
	if maxWorkers <= 0 {
		maxWorkers = defaultWorkers
	}

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var cl *caller.Caller
			for task := range tasks {
				if cl == nil {
					cl = caller.New(cfg.Dialer, cfg.Caller)
				}

				res := runTask(ctx, cl, task, timeout)
				select {
				case out <- res:
				case <-ctx.Done():
					cl.Close()
					return
				}
			}

			if cl != nil {
				cl.DumpMetrics()
				cl.Close()
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
}

// runTask executes one task with its own deadline. A task that exceeds
// it is abandoned; its siblings keep running.
func runTask(ctx context.Context, cl *caller.Caller, task types.Task, timeout time.Duration) taskResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var block *big.Int
	if !task.Latest {
		block = new(big.Int).SetUint64(task.Block)
	}

	timestamp := task.Timestamp
	if timestamp.IsZero() {
		if task.Latest {
			timestamp = time.Now().UTC()
		} else {
			ts, err := cl.BlockTimestamp(ctx, block)
			if err != nil {
				return taskResult{task: task, err: err}
			}
			timestamp = ts
		}
	}

	results, err := cl.Process(ctx, block, task.Calls, task.RequireResult, timestamp)
	return taskResult{task: task, timestamp: timestamp, results: results, err: err}
}
