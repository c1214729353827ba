// Package caller owns one long-lived node connection per worker and the
// tuning state that goes with it: chain-specific batch sizing, fallback
// provider rotation and the degrade-to-singletons failure path. A Caller
// is reused across every task routed to its worker; it is not safe for
// concurrent use.
package caller

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/chainbound/scatter/chains"
	"github.com/chainbound/scatter/log"
	"github.com/chainbound/scatter/multicall"
	"github.com/chainbound/scatter/types"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Config tunes one Caller. Zero values fall back to the chain tables and
// the defaults below.
type Config struct {
	BatchSize int
	GasLimit  uint64

	// Strict rejects empty payloads on successful calls for every task
	// processed by this caller.
	Strict bool

	// Attempts is the number of transient retries per invocation before
	// the caller degrades to singletons.
	Attempts uint

	// RetryDelay is the base backoff delay; Cooldown is the longer wait
	// used when the provider rate-limited us.
	RetryDelay time.Duration
	Cooldown   time.Duration

	// RecoveryThreshold is how many served calls to wait after a
	// fallback switch before trying the primary provider again.
	RecoveryThreshold uint64
}

const (
	defaultAttempts          = 3
	defaultRetryDelay        = 500 * time.Millisecond
	defaultCooldown          = 5 * time.Second
	defaultRecoveryThreshold = 100
)

// ExhaustedError: every configured provider failed at batch size 1.
// There is no automatic way out; an operator has to blacklist the
// offending contract or replace the rpc provider.
type ExhaustedError struct {
	Chain     types.Chain
	Providers int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers for %s failed at batch size 1, blacklist the offending contract or replace the provider: %v",
		e.Providers, e.Chain, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type Caller struct {
	chain  types.Chain
	dialer Dialer
	cfg    Config

	client *Client
	active int

	callsServed uint64
	// lastSwitch is callsServed at the moment of the last fallback
	// switch, -1 while on the primary.
	lastSwitch int64

	logger zerolog.Logger
}

func New(dialer Dialer, cfg Config) *Caller {
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.RecoveryThreshold == 0 {
		cfg.RecoveryThreshold = defaultRecoveryThreshold
	}

	return &Caller{
		chain:      dialer.Chain,
		dialer:     dialer,
		cfg:        cfg,
		lastSwitch: -1,
		logger:     log.NewLogger("caller"),
	}
}

// Connect dials the primary provider. Process connects lazily, so
// calling this up front is optional.
func (c *Caller) Connect(ctx context.Context) error {
	client, err := c.dialer.Connect(ctx, 0)
	if err != nil {
		return err
	}

	c.logger.Debug().Str("chain", string(c.chain)).Str("rpc", c.dialer.Endpoints[0]).Msg("connected to rpc")

	c.client = client
	c.active = 0
	return nil
}

func (c *Caller) Close() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// CallsServed is the running count of calls this caller has issued.
func (c *Caller) CallsServed() uint64 {
	return c.callsServed
}

// BlockTimestamp resolves a block timestamp over this caller's
// connection, nil for latest.
func (c *Caller) BlockTimestamp(ctx context.Context, number *big.Int) (time.Time, error) {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return time.Time{}, err
		}
	}

	return c.client.BlockTimestamp(ctx, number)
}

// DumpMetrics logs the request counters of the active connection.
func (c *Caller) DumpMetrics() {
	if c.client == nil {
		return
	}

	calls, headers := c.client.Requests()
	c.logger.Info().Str("chain", string(c.chain)).
		Uint64("contract_calls", calls).
		Uint64("header_requests", headers).
		Uint64("calls_served", c.callsServed).
		Msg("request counters")
}

// Process issues the calls at blockNumber (nil for latest) and returns
// one result per call that was valid for the block, in call order.
//
// Recoverable node failures are handled here: transient errors retry
// with backoff, then degrade to batch size 1 with provider rotation.
// Only a NonRetryable call, a StateProblem, or exhaustion of every
// provider surfaces as an error. Blocks that predate the aggregator
// deployment (or every call's first_valid_block) return no results and
// no error.
func (c *Caller) Process(ctx context.Context, blockNumber *big.Int, calls []types.Call, requireResult bool, timestamp time.Time) ([]types.CallResult, error) {
	latest := blockNumber == nil
	var blockNum uint64
	if !latest {
		blockNum = blockNumber.Uint64()
	}

	if !chains.Available(c.chain, blockNum, latest) {
		c.logger.Debug().Str("chain", string(c.chain)).Uint64("block", blockNum).Msg("aggregator not yet deployed, skipping block")
		return nil, nil
	}

	valid := make([]types.Call, 0, len(calls))
	for _, call := range calls {
		if call.ValidAt(blockNum, latest) {
			valid = append(valid, call)
		}
	}

	if filtered := len(calls) - len(valid); filtered > 0 {
		c.logger.Trace().Uint64("block", blockNum).Int("filtered", filtered).Msg("filtered calls below first_valid_block")
	}

	if len(valid) == 0 {
		return nil, nil
	}

	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	c.maybeRecover(ctx)

	opts := multicall.Options{
		Chain:         c.chain,
		BatchSize:     c.cfg.BatchSize,
		GasLimit:      c.cfg.GasLimit,
		RequireResult: requireResult || c.cfg.Strict,
	}

	outcomes, err := c.invokeWithRetry(ctx, valid, blockNumber, opts)
	if err != nil {
		if !multicall.Classify(err).Transient() {
			return nil, err
		}

		c.logger.Warn().Str("chain", string(c.chain)).Uint64("block", blockNum).
			Err(err).Msg("batch invocation failed, isolating at batch size 1")

		outcomes, err = c.isolate(ctx, valid, blockNumber, opts)
		if err != nil {
			return nil, err
		}
	}

	c.callsServed += uint64(len(valid))

	results := make([]types.CallResult, len(valid))
	for i, out := range outcomes {
		results[i] = types.NewCallResult(valid[i], out.Success, out.ReturnData, blockNum, latest, timestamp)
	}

	return results, nil
}

func (c *Caller) invokeWithRetry(ctx context.Context, calls []types.Call, blockNumber *big.Int, opts multicall.Options) ([]multicall.Outcome, error) {
	var outcomes []multicall.Outcome

	err := retry.Do(
		func() error {
			out, err := multicall.Invoke(ctx, c.client, calls, blockNumber, opts)
			if err != nil {
				return err
			}
			outcomes = out
			return nil
		},
		retry.Attempts(c.cfg.Attempts),
		retry.RetryIf(func(err error) bool {
			return multicall.Classify(err).Transient()
		}),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			if multicall.Classify(err) == multicall.RateLimited {
				return c.cfg.Cooldown
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}

	return outcomes, nil
}

// isolate retries at batch size 1 to pin down a single broken call or
// contract, rotating through every configured provider. Results must be
// complete: partial data is never returned.
func (c *Caller) isolate(ctx context.Context, calls []types.Call, blockNumber *big.Int, opts multicall.Options) ([]multicall.Outcome, error) {
	opts.BatchSize = 1

	n := c.dialer.NumEndpoints()
	if n <= 1 {
		outcomes, err := multicall.Invoke(ctx, c.client, calls, blockNumber, opts)
		if err == nil {
			return outcomes, nil
		}
		if !multicall.Classify(err).Transient() {
			return nil, err
		}
		return nil, &ExhaustedError{Chain: c.chain, Providers: 1, Err: err}
	}

	var lastErr error
	for i := 0; i < n; i++ {
		if err := c.rotate(ctx); err != nil {
			lastErr = err
			continue
		}

		outcomes, err := multicall.Invoke(ctx, c.client, calls, blockNumber, opts)
		if err == nil {
			return outcomes, nil
		}
		if !multicall.Classify(err).Transient() {
			return nil, err
		}

		c.logger.Warn().Str("chain", string(c.chain)).Int("provider", c.active).
			Err(err).Msg("provider failed at batch size 1")
		lastErr = err
	}

	return nil, &ExhaustedError{Chain: c.chain, Providers: n, Err: lastErr}
}

func (c *Caller) rotate(ctx context.Context) error {
	next := (c.active + 1) % c.dialer.NumEndpoints()

	client, err := c.dialer.Connect(ctx, next)
	if err != nil {
		return fmt.Errorf("rotating to provider %d: %w", next, err)
	}

	if c.client != nil {
		c.client.Close()
	}

	c.client = client
	c.active = next
	c.lastSwitch = int64(c.callsServed)

	c.logger.Info().Str("chain", string(c.chain)).Int("provider", next).
		Str("rpc", c.dialer.Endpoints[next]).Msg("rotated rpc provider")

	return nil
}

// maybeRecover switches back to the primary provider once enough calls
// have been served since the last fallback switch. Providers that
// throttled transiently usually recover.
func (c *Caller) maybeRecover(ctx context.Context) {
	if c.active == 0 || c.lastSwitch < 0 {
		return
	}
	if c.callsServed-uint64(c.lastSwitch) <= c.cfg.RecoveryThreshold {
		return
	}

	client, err := c.dialer.Connect(ctx, 0)
	if err != nil {
		c.logger.Debug().Err(err).Msg("primary provider still unreachable")
		c.lastSwitch = int64(c.callsServed)
		return
	}

	c.client.Close()
	c.client = client
	c.active = 0
	c.lastSwitch = -1

	c.logger.Info().Str("chain", string(c.chain)).Str("rpc", c.dialer.Endpoints[0]).Msg("recovered primary rpc provider")
}
