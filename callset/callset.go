// Package callset loads the HCL file describing which contract reads a
// scan should issue. Payloads are written with the selector/arg helper
// functions, so a callset never needs a full ABI next to it.
package callset

import (
	"fmt"
	"os"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

type Callset struct {
	Chain types.Chain `hcl:"chain"`
	Defs  []*CallDef  `hcl:"call,block"`
}

type CallDef struct {
	Name            string `hcl:"name,label"`
	Address         string `hcl:"address"`
	Data            string `hcl:"data"`
	FirstValidBlock uint64 `hcl:"first_valid_block,optional"`
}

// InitialContext returns the evaluation context callset files are
// decoded with: just the payload helper functions.
func InitialContext() hcl.EvalContext {
	return hcl.EvalContext{
		Functions: Functions,
		Variables: map[string]cty.Value{},
	}
}

// Parse loads a callset file:
//
//	chain = "ethereum"
//
//	call "weth_total_supply" {
//	  address = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
//	  data    = selector("totalSupply()")
//	}
func Parse(path string) (*Callset, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	file, diags := hclsyntax.ParseConfig(f, path, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diags.Errs()[0]
	}

	ctx := InitialContext()
	var cs Callset
	diags = gohcl.DecodeBody(file.Body, &ctx, &cs)
	if diags.HasErrors() {
		return nil, diags.Errs()[0]
	}

	for _, def := range cs.Defs {
		if !common.IsHexAddress(def.Address) {
			return nil, fmt.Errorf("Parse: call %q: invalid address %q", def.Name, def.Address)
		}

		data := common.FromHex(def.Data)
		if len(data) < 4 {
			return nil, fmt.Errorf("Parse: call %q: payload shorter than a selector", def.Name)
		}
	}

	return &cs, nil
}

// Calls materializes the definitions into engine calls, in file order.
func (cs *Callset) Calls() []types.Call {
	calls := make([]types.Call, 0, len(cs.Defs))
	for _, def := range cs.Defs {
		call := types.NewCall(def.Name, common.HexToAddress(def.Address), common.FromHex(def.Data))
		call.FirstValidBlock = def.FirstValidBlock
		calls = append(calls, call)
	}

	return calls
}
