package caller

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/chainbound/scatter/multicall"
	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = types.Chain("testnet")

// fakeBackend decodes aggregator requests and answers per target. fail
// decides, per decoded request, whether the node errors instead;
// respond overrides the default target-echo answer.
type fakeBackend struct {
	mu       sync.Mutex
	fail     func(calls []multicall.RequestCall) error
	respond  func(call multicall.RequestCall) multicall.Outcome
	requests [][]multicall.RequestCall
	closed   bool
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
		if f.respond != nil {
			outcomes[i] = f.respond(call)
		} else {
			outcomes[i] = multicall.Outcome{Success: true, ReturnData: call.Target.Bytes()}
		}
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

func (f *fakeBackend) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBackend) numRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func fakeDialer(backends map[string]*fakeBackend, endpoints []string, dials map[string]int) Dialer {
	var mu sync.Mutex
	return Dialer{
		Chain:     testChain,
		Endpoints: endpoints,
		Dial: func(ctx context.Context, endpoint string) (Backend, error) {
			mu.Lock()
			dials[endpoint]++
			mu.Unlock()

			backend, ok := backends[endpoint]
			if !ok {
				return nil, errors.New("unknown endpoint")
			}
			return backend, nil
		},
	}
}

func fastConfig() Config {
	return Config{
		Attempts:   2,
		RetryDelay: time.Millisecond,
		Cooldown:   time.Millisecond,
	}
}

func testCalls(n int) []types.Call {
	calls := make([]types.Call, n)
	for i := range calls {
		addr := common.BigToAddress(big.NewInt(int64(i + 1)))
		calls[i] = types.NewCall("test", addr, []byte{byte(i), 0xaa, 0xbb, 0xcc})
	}
	return calls
}

func TestProcessFiltersFirstValidBlock(t *testing.T) {
	backend := &fakeBackend{}
	dials := map[string]int{}
	c := New(fakeDialer(map[string]*fakeBackend{"rpc": backend}, []string{"rpc"}, dials), fastConfig())

	calls := testCalls(2)
	calls[1].FirstValidBlock = 200

	results, err := c.Process(context.Background(), big.NewInt(100), calls, false, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Call.Equal(calls[0]))

	// the filtered call never reaches the wire
	for _, req := range backend.requests {
		for _, call := range req {
			assert.NotEqual(t, calls[1].Address, call.Target)
		}
	}

	results, err = c.Process(context.Background(), big.NewInt(300), calls, false, time.Unix(3000, 0))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestProcessPreDeployShortCircuit(t *testing.T) {
	backend := &fakeBackend{}
	dials := map[string]int{}
	dialer := fakeDialer(map[string]*fakeBackend{"rpc": backend}, []string{"rpc"}, dials)
	dialer.Chain = types.ETHEREUM
	c := New(dialer, fastConfig())

	results, err := c.Process(context.Background(), big.NewInt(5), testCalls(3), false, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, results)

	// not even a connection is made
	assert.Zero(t, dials["rpc"])
}

func TestProcessDegradesToSingles(t *testing.T) {
	backend := &fakeBackend{
		fail: func(calls []multicall.RequestCall) error {
			if len(calls) > 1 {
				return errors.New("out of gas")
			}
			return nil
		},
	}
	dials := map[string]int{}
	c := New(fakeDialer(map[string]*fakeBackend{"rpc": backend}, []string{"rpc"}, dials), fastConfig())

	calls := testCalls(5)
	results, err := c.Process(context.Background(), big.NewInt(100), calls, false, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, res := range results {
		assert.True(t, res.Call.Equal(calls[i]))
		assert.True(t, res.Success)
		assert.Equal(t, calls[i].Address.Bytes(), res.Result)
		assert.Equal(t, uint64(100), res.Block)
	}

	// 2 failed batch attempts, then one invocation per call
	assert.Equal(t, 7, backend.numRequests())
	assert.Equal(t, uint64(5), c.CallsServed())
}

func TestProcessRotatesToFallback(t *testing.T) {
	primary := &fakeBackend{
		fail: func(calls []multicall.RequestCall) error {
			return errors.New("request timeout")
		},
	}
	fallback := &fakeBackend{}

	dials := map[string]int{}
	backends := map[string]*fakeBackend{"primary": primary, "fallback": fallback}
	c := New(fakeDialer(backends, []string{"primary", "fallback"}, dials), fastConfig())

	results, err := c.Process(context.Background(), big.NewInt(100), testCalls(3), false, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, 1, dials["fallback"])
	assert.Greater(t, fallback.numRequests(), 0)
}

func TestProcessExhaustsAllProviders(t *testing.T) {
	alwaysFail := func(calls []multicall.RequestCall) error {
		return errors.New("request timeout")
	}
	primary := &fakeBackend{fail: alwaysFail}
	fallback := &fakeBackend{fail: alwaysFail}

	dials := map[string]int{}
	backends := map[string]*fakeBackend{"primary": primary, "fallback": fallback}
	c := New(fakeDialer(backends, []string{"primary", "fallback"}, dials), fastConfig())

	_, err := c.Process(context.Background(), big.NewInt(100), testCalls(3), false, time.Unix(1000, 0))
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Providers)
}

func TestProcessNonRetryableAbortsImmediately(t *testing.T) {
	backend := &fakeBackend{
		fail: func(calls []multicall.RequestCall) error {
			return errors.New("execution reverted")
		},
	}
	dials := map[string]int{}
	c := New(fakeDialer(map[string]*fakeBackend{"rpc": backend}, []string{"rpc"}, dials), fastConfig())

	_, err := c.Process(context.Background(), big.NewInt(100), testCalls(3), false, time.Unix(1000, 0))
	require.Error(t, err)

	var callErr *multicall.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, multicall.NonRetryable, callErr.Kind)

	// no retries, no degradation
	assert.Equal(t, 1, backend.numRequests())
}

func TestProcessRecoversPrimary(t *testing.T) {
	var mu sync.Mutex
	primaryHealthy := false

	primary := &fakeBackend{
		fail: func(calls []multicall.RequestCall) error {
			mu.Lock()
			defer mu.Unlock()
			if !primaryHealthy {
				return errors.New("429 Too Many Requests")
			}
			return nil
		},
	}
	fallback := &fakeBackend{}

	dials := map[string]int{}
	backends := map[string]*fakeBackend{"primary": primary, "fallback": fallback}

	cfg := fastConfig()
	cfg.RecoveryThreshold = 2
	c := New(fakeDialer(backends, []string{"primary", "fallback"}, dials), cfg)

	// primary throttles, fallback takes over
	_, err := c.Process(context.Background(), big.NewInt(100), testCalls(3), false, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Equal(t, 1, dials["fallback"])

	mu.Lock()
	primaryHealthy = true
	mu.Unlock()

	// enough calls served since the switch: next task goes back to the
	// primary
	results, err := c.Process(context.Background(), big.NewInt(101), testCalls(3), false, time.Unix(1010, 0))
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, dials["primary"])
}

func TestProcessStrictMode(t *testing.T) {
	// success with empty payload: the node response cannot be trusted
	backend := &fakeBackend{
		respond: func(call multicall.RequestCall) multicall.Outcome {
			return multicall.Outcome{Success: true, ReturnData: nil}
		},
	}
	dials := map[string]int{}

	cfg := fastConfig()
	cfg.Strict = true
	c := New(fakeDialer(map[string]*fakeBackend{"rpc": backend}, []string{"rpc"}, dials), cfg)

	calls := testCalls(1)
	_, err := c.Process(context.Background(), big.NewInt(100), calls, false, time.Unix(1000, 0))
	require.Error(t, err)

	var callErr *multicall.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, multicall.StateProblem, callErr.Kind)
}
