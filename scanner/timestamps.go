package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/chainbound/scatter/caller"

	"golang.org/x/sync/errgroup"
)

const defaultPrefetchConcurrency = 8

// HeaderTimestamper resolves a block's timestamp. *caller.Client
// satisfies it; tests fake it.
type HeaderTimestamper interface {
	BlockTimestamp(ctx context.Context, number *big.Int) (time.Time, error)
}

var _ HeaderTimestamper = (*caller.Client)(nil)

// PrefetchTimestamps resolves the timestamps for all blocks up front.
// Header lookups are cheap and every stateful predicate needs them, so
// paying one parallel burst here beats one extra round-trip per block
// inside the scan loop.
func PrefetchTimestamps(ctx context.Context, client HeaderTimestamper, blocks []uint64, concurrency int) (map[uint64]time.Time, error) {
	if concurrency <= 0 {
		concurrency = defaultPrefetchConcurrency
	}

	var mu sync.Mutex
	timestamps := make(map[uint64]time.Time, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, block := range blocks {
		block := block
		g.Go(func() error {
			ts, err := client.BlockTimestamp(gctx, new(big.Int).SetUint64(block))
			if err != nil {
				return fmt.Errorf("prefetching timestamp for block %d: %w", block, err)
			}

			mu.Lock()
			timestamps[block] = ts
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return timestamps, nil
}

func blockRange(start, end, step uint64) []uint64 {
	if step == 0 {
		step = 1
	}

	var blocks []uint64
	for block := start; block < end; block += step {
		blocks = append(blocks, block)
	}

	return blocks
}
