package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/chainbound/scatter/caller"
	"github.com/chainbound/scatter/multicall"
	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = types.Chain("testnet")

// fakeBackend is shared by every worker connection so tests can count
// requests across the whole pool.
type fakeBackend struct {
	mu       sync.Mutex
	fail     func(calls []multicall.RequestCall) error
	requests [][]multicall.RequestCall
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	calls, err := multicall.UnpackRequest(msg.Data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.requests = append(f.requests, calls)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(calls); err != nil {
			return nil, err
		}
	}

	outcomes := make([]multicall.Outcome, len(calls))
	for i, call := range calls {
		outcomes[i] = multicall.Outcome{Success: true, ReturnData: call.CallData}
	}

	return multicall.PackOutcomes(outcomes)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	n := big.NewInt(0)
	if number != nil {
		n = number
	}

	return &gethtypes.Header{Number: new(big.Int).Set(n), Time: n.Uint64() * 10}, nil
}

func (f *fakeBackend) Close() {}

func (f *fakeBackend) numRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testConfig(backend *fakeBackend) Config {
	return Config{
		Chain: testChain,
		Dialer: caller.Dialer{
			Chain:     testChain,
			Endpoints: []string{"rpc"},
			Dial: func(ctx context.Context, endpoint string) (caller.Backend, error) {
				return backend, nil
			},
		},
		Caller: caller.Config{Attempts: 1, RetryDelay: time.Millisecond, Cooldown: time.Millisecond},
	}
}

func uniqueCalls(n int) []types.Call {
	calls := make([]types.Call, n)
	for i := range calls {
		addr := common.BigToAddress(big.NewInt(int64(i + 1)))
		data := []byte{0xaa, 0xbb, byte(i >> 8), byte(i)}
		calls[i] = types.NewCall(fmt.Sprintf("call_%d", i), addr, data)
	}
	return calls
}

func TestScanCombinesPerBlock(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)
	calls := uniqueCalls(3)

	results := Scan(context.Background(), cfg, calls, 10, 20, 5, 2, time.Second)

	byBlock := map[uint64]types.CombinedResult{}
	for combined := range results {
		require.NoError(t, combined.Err)
		byBlock[combined.Block] = combined
	}

	require.Len(t, byBlock, 2)
	for _, block := range []uint64{10, 15} {
		combined, ok := byBlock[block]
		require.True(t, ok, "missing block %d", block)
		require.Len(t, combined.Results, 3)

		// worker resolves the block timestamp from the header
		assert.Equal(t, time.Unix(int64(block*10), 0).UTC(), combined.Timestamp)

		for i, res := range combined.Results {
			assert.True(t, res.Call.Equal(calls[i]))
			assert.True(t, res.Success)
			assert.Equal(t, calls[i].Data, res.Result)
			assert.Equal(t, block, res.Block)
		}
	}
}

func TestScanAbortsOnFatal(t *testing.T) {
	backend := &fakeBackend{
		fail: func(calls []multicall.RequestCall) error {
			return errors.New("execution reverted")
		},
	}
	cfg := testConfig(backend)

	results := Scan(context.Background(), cfg, uniqueCalls(2), 10, 30, 1, 2, time.Second)

	var last types.CombinedResult
	count := 0
	for combined := range results {
		last = combined
		count++
	}

	require.Equal(t, 1, count)
	require.Error(t, last.Err)

	var callErr *multicall.CallError
	assert.ErrorAs(t, last.Err, &callErr)
}

func TestScanChunkedPartitionsCalls(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)
	// one aggregator invocation per task
	cfg.Caller.BatchSize = 100

	calls := uniqueCalls(250)

	results := ScanChunked(context.Background(), cfg, calls, nil, 3, 100, false)

	seen := map[types.CallKey]int{}
	count := 0
	for res := range results {
		require.NoError(t, res.Err)
		assert.True(t, res.Latest)
		assert.True(t, res.Success)
		seen[res.Call.Key()]++
		count++
	}

	assert.Equal(t, 250, count)
	assert.Len(t, seen, 250)

	// 250 calls in chunks of 100: tasks of 100, 100 and 50
	require.Equal(t, 3, backend.numRequests())
	sizes := map[int]int{}
	for _, req := range backend.requests {
		sizes[len(req)]++
	}
	assert.Equal(t, map[int]int{100: 2, 50: 1}, sizes)
}

// stubState flips to "never invoke again" as soon as it has seen one
// read, mirroring a market that went inactive.
type stubState struct {
	invoke bool
}

func (s *stubState) ShouldInvoke(call types.Call, block uint64, ts time.Time) bool {
	return s.invoke
}

func (s *stubState) Save() ([]byte, error) { return nil, nil }
func (s *stubState) Load([]byte) error     { return nil }

func TestScanStatefulForcesFirstRead(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)

	calls := uniqueCalls(2)
	states := []StatefulCall{
		{Call: calls[0], State: &stubState{invoke: false}},
		{Call: calls[1], State: &stubState{invoke: false}},
	}

	opts := DefaultStatefulOptions()
	opts.ChunkSize = 2
	opts.MaxWorkers = 2

	results := ScanStateful(context.Background(), cfg, states, 100, 103, 1, opts)

	var combined []types.CombinedResult
	for res := range results {
		require.NoError(t, res.Err)
		combined = append(combined, res)
	}

	// every call read once at block 100, nothing at 101/102
	require.Len(t, combined, 1)
	assert.Equal(t, uint64(100), combined[0].Block)
	require.Len(t, combined[0].Results, 2)

	for i, res := range combined[0].Results {
		assert.True(t, res.Call.Equal(calls[i]))
		// originating state is re-attached after the flush
		assert.Same(t, states[i].State, res.State)
	}
}

func TestScanStatefulDisabledForceRead(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)

	calls := uniqueCalls(2)
	states := []StatefulCall{
		{Call: calls[0], State: &stubState{invoke: false}},
		{Call: calls[1], State: &stubState{invoke: false}},
	}

	opts := DefaultStatefulOptions()
	opts.ForceFirstRead = false

	results := ScanStateful(context.Background(), cfg, states, 100, 103, 1, opts)

	for res := range results {
		t.Fatalf("expected no results, got block %d", res.Block)
	}

	// only timestamp prefetch traffic, no contract calls
	assert.Zero(t, backend.numRequests())
}

func TestScanStatefulBlockOrder(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)

	calls := uniqueCalls(1)
	states := []StatefulCall{{Call: calls[0], State: &stubState{invoke: true}}}

	opts := DefaultStatefulOptions()
	opts.ChunkSize = 4
	opts.MaxWorkers = 4

	results := ScanStateful(context.Background(), cfg, states, 100, 110, 1, opts)

	var blocks []uint64
	for res := range results {
		require.NoError(t, res.Err)
		blocks = append(blocks, res.Block)
		assert.Equal(t, time.Unix(int64(res.Block*10), 0).UTC(), res.Timestamp)
	}

	expected := []uint64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	assert.Equal(t, expected, blocks)
}

func TestScanStatefulMissingState(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(backend)

	calls := uniqueCalls(1)
	states := []StatefulCall{{Call: calls[0], State: nil}}

	results := ScanStateful(context.Background(), cfg, states, 100, 103, 1, DefaultStatefulOptions())

	res, ok := <-results
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, ErrMissingState)

	_, ok = <-results
	assert.False(t, ok)
}

type fakeTimestamper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTimestamper) BlockTimestamp(ctx context.Context, number *big.Int) (time.Time, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return time.Unix(number.Int64()*10, 0).UTC(), nil
}

func TestPrefetchTimestamps(t *testing.T) {
	ft := &fakeTimestamper{}
	blocks := blockRange(100, 120, 2)

	timestamps, err := PrefetchTimestamps(context.Background(), ft, blocks, 4)
	require.NoError(t, err)

	require.Len(t, timestamps, len(blocks))
	for _, block := range blocks {
		assert.Equal(t, time.Unix(int64(block*10), 0).UTC(), timestamps[block])
	}

	assert.Equal(t, len(blocks), ft.calls)
}

func TestBlockRange(t *testing.T) {
	assert.Equal(t, []uint64{10, 15}, blockRange(10, 20, 5))
	assert.Equal(t, []uint64{10, 11, 12}, blockRange(10, 13, 0))
	assert.Empty(t, blockRange(10, 10, 1))
}
