// Package multicall turns a flat list of contract reads into one or more
// aggregator-contract invocations and decodes the per-call outcomes. It
// deals in raw bytes only; interpreting a call's return data is the
// caller's business.
package multicall

import (
	"context"
	"errors"
	"math/big"

	"github.com/chainbound/scatter/chains"
	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNoCalls = errors.New("no calls to invoke")

// ContractCaller is the one node operation the engine needs.
// *ethclient.Client satisfies it, and tests fake it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Options tune one Invoke. Zero values fall back to the chain tables.
type Options struct {
	Chain     types.Chain
	BatchSize int
	GasLimit  uint64

	// RequireResult treats an empty payload on a successful call as a
	// corrupted node response. Some providers silently truncate
	// eth_call responses; this turns that into a hard failure.
	RequireResult bool
}

// Invoke issues the calls through the chain's aggregator contract, one
// invocation per batch of Options.BatchSize, at the given block (nil
// means latest). The returned outcomes have the same length and order as
// calls. Any failure aborts the whole invocation with a *CallError.
func Invoke(ctx context.Context, client ContractCaller, calls []types.Call, blockNumber *big.Int, opts Options) ([]Outcome, error) {
	if len(calls) == 0 {
		return nil, ErrNoCalls
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = chains.BatchSize(opts.Chain)
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit = chains.GasLimit(opts.Chain)
	}

	aggregator := chains.Aggregator(opts.Chain)

	outcomes := make([]Outcome, 0, len(calls))
	for start := 0; start < len(calls); start += batchSize {
		end := start + batchSize
		if end > len(calls) {
			end = len(calls)
		}
		batch := calls[start:end]

		input, err := packAggregate(batch)
		if err != nil {
			return nil, &CallError{
				Kind:      NonRetryable,
				Chain:     opts.Chain,
				To:        aggregator,
				Block:     blockNumber,
				BatchSize: batchSize,
				Targets:   targets(batch),
				Err:       err,
			}
		}

		msg := ethereum.CallMsg{
			To:   &aggregator,
			Gas:  gasLimit,
			Data: input,
		}

		raw, err := client.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return nil, &CallError{
				Kind:      Classify(err),
				Chain:     opts.Chain,
				To:        aggregator,
				Block:     blockNumber,
				BatchSize: batchSize,
				Targets:   targets(batch),
				Payload:   input,
				Err:       err,
			}
		}

		decoded, err := unpackAggregate(raw)
		if err != nil {
			return nil, &CallError{
				Kind:      StateProblem,
				Chain:     opts.Chain,
				To:        aggregator,
				Block:     blockNumber,
				BatchSize: batchSize,
				Targets:   targets(batch),
				Payload:   input,
				Err:       err,
			}
		}

		if len(decoded) != len(batch) {
			return nil, &CallError{
				Kind:      StateProblem,
				Chain:     opts.Chain,
				To:        aggregator,
				Block:     blockNumber,
				BatchSize: batchSize,
				Targets:   targets(batch),
				Payload:   input,
				Err:       errors.New("result count does not match call count"),
			}
		}

		if opts.RequireResult {
			for i, out := range decoded {
				if out.Success && len(out.ReturnData) == 0 {
					return nil, &CallError{
						Kind:      StateProblem,
						Chain:     opts.Chain,
						To:        aggregator,
						Block:     blockNumber,
						BatchSize: batchSize,
						Targets:   targets(batch[i : i+1]),
						Payload:   input,
						Err:       errors.New("empty payload on successful call, node response looks truncated"),
					}
				}
			}
		}

		outcomes = append(outcomes, decoded...)
	}

	return outcomes, nil
}

func targets(calls []types.Call) []common.Address {
	out := make([]common.Address, len(calls))
	for i, c := range calls {
		out[i] = c.Address
	}
	return out
}
