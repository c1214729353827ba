package multicall

import (
	"fmt"
	"strings"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// tryAggregate(bool requireSuccess, (address,bytes)[] calls) is the only
// aggregator function the engine uses. requireSuccess is always false so
// one reverting call never aborts its siblings.
const rawABI = `[{
	"inputs": [
		{"internalType": "bool", "name": "requireSuccess", "type": "bool"},
		{"components": [
			{"internalType": "address", "name": "target", "type": "address"},
			{"internalType": "bytes", "name": "callData", "type": "bytes"}
		], "internalType": "struct Multicall3.Call[]", "name": "calls", "type": "tuple[]"}
	],
	"name": "tryAggregate",
	"outputs": [
		{"components": [
			{"internalType": "bool", "name": "success", "type": "bool"},
			{"internalType": "bytes", "name": "returnData", "type": "bytes"}
		], "internalType": "struct Multicall3.Result[]", "name": "returnData", "type": "tuple[]"}
	],
	"stateMutability": "payable",
	"type": "function"
}]`

var aggregateABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(fmt.Sprintf("parsing aggregator abi: %v", err))
	}
	aggregateABI = parsed
}

// RequestCall is one (target, payload) pair inside an encoded
// tryAggregate request.
type RequestCall struct {
	Target   common.Address
	CallData []byte
}

// Outcome is one call's slot in the decoded aggregator response.
type Outcome struct {
	Success    bool
	ReturnData []byte
}

func packAggregate(calls []types.Call) ([]byte, error) {
	targets := make([]RequestCall, len(calls))
	for i, call := range calls {
		targets[i] = RequestCall{Target: call.Address, CallData: call.Data}
	}

	input, err := aggregateABI.Pack("tryAggregate", false, targets)
	if err != nil {
		return nil, fmt.Errorf("packing tryAggregate: %w", err)
	}

	return input, nil
}

func unpackAggregate(raw []byte) ([]Outcome, error) {
	values, err := aggregateABI.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("unpacking tryAggregate: %w", err)
	}

	outcomes := abi.ConvertType(values[0], new([]Outcome)).(*[]Outcome)
	return *outcomes, nil
}

// PackOutcomes builds a raw tryAggregate response. It exists for tests
// that fake the node.
func PackOutcomes(outcomes []Outcome) ([]byte, error) {
	return aggregateABI.Methods["tryAggregate"].Outputs.Pack(outcomes)
}

// UnpackRequest decodes the (target, payload) pairs of an encoded
// tryAggregate request, for manual triage of a failing invocation and
// for tests that fake the node.
func UnpackRequest(input []byte) ([]RequestCall, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("input shorter than a selector")
	}

	values, err := aggregateABI.Methods["tryAggregate"].Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("unpacking tryAggregate request: %w", err)
	}

	calls := abi.ConvertType(values[1], new([]RequestCall)).(*[]RequestCall)
	return *calls, nil
}
