package callset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var Functions = map[string]function.Function{
	"upper":    stdlib.UpperFunc,
	"lower":    stdlib.LowerFunc,
	"selector": Selector,
	"arg":      Arg,
	"calldata": Calldata,
}

// Selector hashes a canonical function signature down to its 4-byte
// selector, hex encoded.
var Selector = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "Signature", Type: cty.String},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		return cty.String, nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		sig := args[0].AsString()
		hash := crypto.Keccak256([]byte(sig))

		return cty.StringVal(hexutil.Encode(hash[:4])), nil
	},
})

// Arg encodes one static argument as a 32-byte ABI word. Addresses and
// hex values are left-padded.
var Arg = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "Value", Type: cty.String},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		return cty.String, nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		raw := common.FromHex(args[0].AsString())
		if len(raw) > 32 {
			return cty.NilVal, fmt.Errorf("argument longer than one abi word: %q", args[0].AsString())
		}

		word := make([]byte, 32)
		copy(word[32-len(raw):], raw)

		return cty.StringVal(hexutil.Encode(word)), nil
	},
})

// Calldata concatenates a selector and its encoded arguments into one
// hex payload.
var Calldata = function.New(&function.Spec{
	VarParam: &function.Parameter{Name: "Parts", Type: cty.String},
	Type: func(args []cty.Value) (cty.Type, error) {
		return cty.String, nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		var data []byte
		for _, arg := range args {
			data = append(data, common.FromHex(arg.AsString())...)
		}

		return cty.StringVal(hexutil.Encode(data)), nil
	},
})
