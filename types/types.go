package types

import (
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Chain string

const (
	ETHEREUM Chain = "ethereum"
	AVAX     Chain = "avax"
	ARBITRUM Chain = "arbitrum"
	OPTIMISM Chain = "optimism"
	POLYGON  Chain = "polygon"
	FANTOM   Chain = "fantom"
	BINANCE  Chain = "binance"
)

// Main program options, provided as cli arguments
type ScatterOpts struct {
	Chain      string
	Callset    string
	Chains     string
	StartBlock int64
	EndBlock   int64
	Interval   int64
	Workers    int
	ChunkSize  int
	Timeout    int64
	RateLimit  int
	Strict     bool
	Db         bool
	Csv        bool
	Stdout     bool
	LogLevel   int
}

// callID hands out process-unique call ids. Ids are diagnostic only:
// call identity is defined by Key(), never by id.
var callID uint64

// Call is an immutable description of one contract read. The payload in
// Data is already ABI-encoded (4-byte selector + arguments); the engine
// never interprets it.
type Call struct {
	// FuncName is diagnostic only, used in logs and error payloads.
	FuncName string
	Address  common.Address
	Data     []byte

	// Extra is an opaque caller payload, routed back untouched on the
	// result so callers can map results to their own bookkeeping.
	Extra map[string]any

	// FirstValidBlock marks the first block at which the target contract
	// exists. Historical reads before it skip the call. Zero means
	// always valid.
	FirstValidBlock uint64

	ID uint64
}

// NewCall assigns a process-unique id. Extra and FirstValidBlock can be
// set on the returned value before first use; a Call must not change
// after it has been handed to a scan.
func NewCall(funcName string, address common.Address, data []byte) Call {
	return Call{
		FuncName: funcName,
		Address:  address,
		Data:     data,
		ID:       atomic.AddUint64(&callID, 1),
	}
}

// CallKey is the identity of a Call: target plus payload. It is a plain
// comparable value, so two calls constructed independently in different
// goroutines (or deserialized on the other side of a process boundary)
// key identically. Extra and ID never participate.
type CallKey struct {
	Address common.Address
	Data    string
}

func (c Call) Key() CallKey {
	return CallKey{Address: c.Address, Data: string(c.Data)}
}

func (c Call) Equal(other Call) bool {
	return c.Key() == other.Key()
}

// ValidAt reports whether the call may be issued at the given block.
// Latest-block reads are always valid.
func (c Call) ValidAt(block uint64, latest bool) bool {
	if latest || c.FirstValidBlock == 0 {
		return true
	}
	return block >= c.FirstValidBlock
}

// CallResult is the outcome of one Call at one block.
//
// Failed calls always carry an empty Result. Transport-level failures of
// a whole scan arrive with Err set and no other field populated, in
// which case the scan is over.
type CallResult struct {
	Err error

	Call    Call
	Success bool
	Result  []byte

	Block     uint64
	Latest    bool
	Timestamp time.Time

	// State is the caller-owned adaptive state for this call, re-attached
	// by the stateful scan after a flush. It is a back-reference for the
	// caller's convenience, not an ownership transfer.
	State CallState
}

// NewCallResult stamps one decoded outcome. A failed call never carries
// payload bytes, whatever the node returned.
func NewCallResult(call Call, success bool, result []byte, block uint64, latest bool, timestamp time.Time) CallResult {
	if !success {
		result = nil
	}
	return CallResult{
		Call:      call,
		Success:   success,
		Result:    result,
		Block:     block,
		Latest:    latest,
		Timestamp: timestamp,
	}
}

// CombinedResult is one block's worth of results, the unit streamed out
// of historical scans. Results preserve the order of the calls that were
// issued for the block.
type CombinedResult struct {
	Err error

	Block     uint64
	Timestamp time.Time
	Results   []CallResult
}

// CallState decides, per block, whether a call is still worth issuing.
// Instances are owned by the caller; the engine only ever reads them
// from the single-threaded scheduling loop of the stateful scan, so
// implementations need no internal locking.
type CallState interface {
	ShouldInvoke(call Call, block uint64, timestamp time.Time) bool

	// Save and Load move the state across process runs.
	Save() ([]byte, error)
	Load(data []byte) error
}

// Task is one unit of scheduled work: everything a worker needs, with no
// shared mutable state, so it is safe to hand to any worker goroutine.
type Task struct {
	ID    uint64
	Chain Chain

	Block  uint64
	Latest bool

	Calls         []Call
	RequireResult bool

	// Timestamp is the block timestamp when the orchestrator prefetched
	// it; zero means the worker resolves it.
	Timestamp time.Time
}
