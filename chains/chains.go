// Package chains holds the per-chain tables the call engine depends on:
// where the aggregator contract lives, from which block it is usable, and
// the batch/gas tuning each chain tolerates. The built-in tables cover the
// chains we run against; LoadOverrides extends them from an HCL file.
package chains

import (
	"fmt"
	"os"
	"time"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Multicall3 is deployed at the same address on every chain we support.
// Chains with a non-standard deployment go in aggregatorOverrides.
var DefaultAggregator = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const (
	// DefaultBatchSize is the number of calls packed into one aggregator
	// invocation. Bounded by the node's gas/time budget for eth_call.
	DefaultBatchSize = 40

	// DefaultGasLimit is the gas cap set on each aggregator invocation.
	DefaultGasLimit = uint64(10_000_000)
)

// Deployment records when the aggregator became usable on a chain. The
// timestamp is diagnostic only.
type Deployment struct {
	Block     uint64
	Timestamp time.Time
}

var aggregatorOverrides = map[types.Chain]common.Address{}

var deployments = map[types.Chain]Deployment{
	types.ETHEREUM: {Block: 14_353_601, Timestamp: time.Date(2022, 3, 9, 16, 17, 56, 0, time.UTC)},
	types.POLYGON:  {Block: 25_770_160, Timestamp: time.Date(2022, 3, 9, 15, 58, 18, 0, time.UTC)},
	types.ARBITRUM: {Block: 7_654_707, Timestamp: time.Date(2022, 3, 9, 16, 5, 34, 0, time.UTC)},
	types.OPTIMISM: {Block: 4_286_263, Timestamp: time.Date(2022, 3, 9, 16, 18, 28, 0, time.UTC)},
	types.AVAX:     {Block: 11_907_934, Timestamp: time.Date(2022, 3, 9, 16, 21, 17, 0, time.UTC)},
	types.FANTOM:   {Block: 33_001_987, Timestamp: time.Date(2022, 3, 9, 16, 5, 0, 0, time.UTC)},
	types.BINANCE:  {Block: 15_921_452, Timestamp: time.Date(2022, 3, 9, 16, 9, 47, 0, time.UTC)},
}

// Arbitrum counts L1 calldata posting against the gas limit of a
// simulated call, so the cap that fits a full batch elsewhere runs out
// of gas there. It needs an order of magnitude more.
var gasOverrides = map[types.Chain]uint64{
	types.ARBITRUM: 100_000_000,
}

// Polygon nodes run a tighter eth_call timeout; full-size batches hit it.
var batchOverrides = map[types.Chain]int{
	types.POLYGON: 16,
}

// Aggregator returns the aggregator contract address for the chain.
func Aggregator(chain types.Chain) common.Address {
	if addr, ok := aggregatorOverrides[chain]; ok {
		return addr
	}
	return DefaultAggregator
}

// Deploy returns the aggregator deployment record, if known.
func Deploy(chain types.Chain) (Deployment, bool) {
	d, ok := deployments[chain]
	return d, ok
}

// Available reports whether the aggregator exists at the given block.
// Unknown chains are assumed available; a wrong assumption surfaces as a
// revert, not silent data loss.
func Available(chain types.Chain, block uint64, latest bool) bool {
	if latest {
		return true
	}

	d, ok := deployments[chain]
	if !ok {
		return true
	}

	return block >= d.Block
}

// GasLimit returns the gas cap for one aggregator invocation.
func GasLimit(chain types.Chain) uint64 {
	if g, ok := gasOverrides[chain]; ok {
		return g
	}
	return DefaultGasLimit
}

// BatchSize returns the tuned batch size for the chain.
func BatchSize(chain types.Chain) int {
	if b, ok := batchOverrides[chain]; ok {
		return b
	}
	return DefaultBatchSize
}

type chainDef struct {
	Name        string `hcl:"name,label"`
	Aggregator  string `hcl:"aggregator,optional"`
	DeployBlock uint64 `hcl:"deploy_block,optional"`
	GasLimit    uint64 `hcl:"gas_limit,optional"`
	BatchSize   int    `hcl:"batch_size,optional"`
}

type overrideFile struct {
	Chains []*chainDef `hcl:"chain,block"`
}

// LoadOverrides extends the built-in tables from an HCL file:
//
//	chain "zora" {
//	  deploy_block = 5882
//	  batch_size   = 24
//	}
//
// Call it once at startup, before any scan starts reading the tables.
func LoadOverrides(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	file, diags := hclsyntax.ParseConfig(f, path, hcl.InitialPos)
	if diags.HasErrors() {
		return diags.Errs()[0]
	}

	var overrides overrideFile
	diags = gohcl.DecodeBody(file.Body, nil, &overrides)
	if diags.HasErrors() {
		return diags.Errs()[0]
	}

	for _, def := range overrides.Chains {
		if def.Name == "" {
			return fmt.Errorf("LoadOverrides: chain block without a name")
		}

		chain := types.Chain(def.Name)

		if def.Aggregator != "" {
			if !common.IsHexAddress(def.Aggregator) {
				return fmt.Errorf("LoadOverrides: %s: invalid aggregator address %q", def.Name, def.Aggregator)
			}
			aggregatorOverrides[chain] = common.HexToAddress(def.Aggregator)
		}

		if def.DeployBlock != 0 {
			deployments[chain] = Deployment{Block: def.DeployBlock}
		}

		if def.GasLimit != 0 {
			gasOverrides[chain] = def.GasLimit
		}

		if def.BatchSize != 0 {
			batchOverrides[chain] = def.BatchSize
		}
	}

	return nil
}
