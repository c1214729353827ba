package caller

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainbound/scatter/types"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/ratelimit"
)

var ErrNoEndpoints = errors.New("no rpc endpoints configured")

// DialFunc opens one backend connection. Tests substitute it to fake the
// node; the default dials an ethclient.
type DialFunc func(ctx context.Context, endpoint string) (Backend, error)

// Dialer is the connection factory handed to workers. Endpoints are
// ordered: the first is the primary provider, the rest are fallbacks in
// rotation order.
type Dialer struct {
	Chain             types.Chain
	Endpoints         []string
	RequestsPerSecond int

	// Dial overrides how a single endpoint is opened. Nil dials an
	// ethclient over the endpoint url.
	Dial DialFunc
}

func (d Dialer) NumEndpoints() int {
	return len(d.Endpoints)
}

// Connect opens the endpoint at index i, wrapped in a rate-limited
// caching Client.
func (d Dialer) Connect(ctx context.Context, i int) (*Client, error) {
	if i < 0 || i >= len(d.Endpoints) {
		return nil, fmt.Errorf("Connect: endpoint %d out of range: %w", i, ErrNoEndpoints)
	}

	dial := d.Dial
	if dial == nil {
		dial = dialEthclient
	}

	backend, err := dial(ctx, d.Endpoints[i])
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}

	return NewClient(backend, d.limiter()), nil
}

func (d Dialer) limiter() ratelimit.Limiter {
	if d.RequestsPerSecond <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(d.RequestsPerSecond)
}

func dialEthclient(ctx context.Context, endpoint string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return client, nil
}
