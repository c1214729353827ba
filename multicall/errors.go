package multicall

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrorKind controls what the per-worker reader does with a failed
// aggregator invocation.
type ErrorKind int

const (
	// NonRetryable: the target contract or payload looks genuinely
	// broken. Aborts the task; never retried, so a real bug is not
	// masked as network noise.
	NonRetryable ErrorKind = iota

	// Retryable: transient node exhaustion. The reader degrades the
	// batch size and rotates providers before giving up.
	Retryable

	// RateLimited: retryable, but the provider asked us to back off, so
	// the retry waits out a cooldown first.
	RateLimited

	// StateProblem: the node returned a response we cannot trust
	// (truncated payloads, mismatched result count). Surfaced
	// immediately, never retried.
	StateProblem
)

func (k ErrorKind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate-limited"
	case StateProblem:
		return "state-problem"
	default:
		return "non-retryable"
	}
}

// Transient reports whether the reader should keep trying.
func (k ErrorKind) Transient() bool {
	return k == Retryable || k == RateLimited
}

type rule struct {
	kind  ErrorKind
	match func(msg string) bool
}

func substr(s string) func(string) bool {
	return func(msg string) bool { return strings.Contains(msg, s) }
}

// The node-exhaustion vocabulary. Matched in order against the lowercased
// error text; first hit wins, anything unmatched is NonRetryable.
var rules = []rule{
	{RateLimited, substr("429")},
	{RateLimited, substr("too many requests")},
	{Retryable, substr("out of gas")},
	{Retryable, substr("evm timeout")},
	{Retryable, substr("request timeout")},
	{Retryable, substr("context deadline exceeded")},
	{Retryable, substr("exceeds block gas limit")},
	{Retryable, substr("historical state")},
	{Retryable, substr("500 internal server error")},
	{Retryable, substr("internal server error")},
}

// Classify maps a node error onto the retry taxonomy. A *CallError keeps
// the kind it was classified with.
func Classify(err error) ErrorKind {
	if err == nil {
		return NonRetryable
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.match(msg) {
			return r.kind
		}
	}

	return NonRetryable
}

// CallError is the failure of one aggregator invocation, carrying enough
// context to replay the exact failing request by hand.
type CallError struct {
	Kind      ErrorKind
	Chain     types.Chain
	To        common.Address
	Block     *big.Int // nil means latest
	BatchSize int
	Targets   []common.Address
	Payload   []byte
	Err       error
}

func (e *CallError) Error() string {
	block := "latest"
	if e.Block != nil {
		block = e.Block.String()
	}

	msg := fmt.Sprintf("aggregator call failed (%s): chain=%s block=%s batch_size=%d targets=%s",
		e.Kind, e.Chain, block, e.BatchSize, formatTargets(e.Targets))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ReproCurl renders the failing invocation as a raw eth_call for manual
// triage against any node or simulator.
func (e *CallError) ReproCurl(rpcURL string) string {
	block := "latest"
	if e.Block != nil {
		block = hexutil.EncodeBig(e.Block)
	}

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"eth_call","params":[{"to":"%s","data":"%s"},"%s"]}`,
		strings.ToLower(e.To.Hex()), hexutil.Encode(e.Payload), block)

	return fmt.Sprintf("curl -s -X POST -H 'Content-Type: application/json' --data '%s' %s", body, rpcURL)
}

func formatTargets(targets []common.Address) string {
	const maxShown = 5

	shown := make([]string, 0, maxShown+1)
	for i, t := range targets {
		if i == maxShown {
			shown = append(shown, fmt.Sprintf("+%d more", len(targets)-maxShown))
			break
		}
		shown = append(shown, t.Hex())
	}

	return "[" + strings.Join(shown, ",") + "]"
}
