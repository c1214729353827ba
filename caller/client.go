package caller

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/ratelimit"
)

// Backend is the slice of the node API the engine touches.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	Close()
}

// Client wraps one node connection with request pacing, an lru header
// cache and request counters. One Client per worker; never shared across
// workers except by the timestamp prefetcher, which is why the counters
// are atomic.
type Client struct {
	backend     Backend
	rateLimiter ratelimit.Limiter

	contractCallRequests uint64
	headerRequests       uint64

	// lruCaches are thread safe
	headerCache *lru.Cache
}

func NewClient(backend Backend, rl ratelimit.Limiter) *Client {
	hc, _ := lru.New(4096)
	return &Client{
		backend:     backend,
		rateLimiter: rl,
		headerCache: hc,
	}
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	atomic.AddUint64(&c.contractCallRequests, 1)
	c.rateLimiter.Take()

	return c.backend.CallContract(ctx, msg, blockNumber)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	if number != nil {
		if header, ok := c.headerCache.Get(number.Int64()); ok {
			return header.(*gethtypes.Header), nil
		}
	}

	atomic.AddUint64(&c.headerRequests, 1)
	c.rateLimiter.Take()

	header, err := c.backend.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	c.headerCache.Add(header.Number.Int64(), header)

	return header, nil
}

// BlockTimestamp resolves one block's timestamp, served from the header
// cache after the first lookup.
func (c *Client) BlockTimestamp(ctx context.Context, number *big.Int) (time.Time, error) {
	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// Requests returns the contract-call and header request counters.
func (c *Client) Requests() (contractCalls, headers uint64) {
	return atomic.LoadUint64(&c.contractCallRequests), atomic.LoadUint64(&c.headerRequests)
}

func (c *Client) Close() {
	c.backend.Close()
}
