package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Client is the minimal bus client shape: send one request, get one
// response. datapath.Client is the same shape by structural typing.
type Client interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// defaultTimeout is the per-RPC deadline.
const defaultTimeout = 100 * time.Millisecond

// PersistentClient wraps a lazily-dialed Client, reusing the same
// underlying connection across calls rather than reconnecting per
// request. A timeout or error on any call drops the connection so the
// next call redials.
type PersistentClient struct {
	// Dial opens a fresh underlying connection.
	Dial func(ctx context.Context) (Client, error)
	// Timeout is the per-RPC deadline; defaultTimeout if zero.
	Timeout time.Duration

	mu   sync.Mutex
	conn Client
}

// NewPersistentClient wraps dial with the standard 100ms timeout.
func NewPersistentClient(dial func(ctx context.Context) (Client, error)) *PersistentClient {
	return &PersistentClient{Dial: dial, Timeout: defaultTimeout}
}

// Send dials on first use (or after a previous failure), then issues
// req under the per-RPC timeout. A failed or timed-out call discards
// the connection so the next Send reconnects.
func (p *PersistentClient) Send(ctx context.Context, req Request) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := p.Dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("bus: connect: %w", err)
		}
		p.conn = conn
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.conn.Send(cctx, req)
	if err != nil {
		p.conn = nil
		return nil, fmt.Errorf("bus: request failed, will reconnect: %w", err)
	}
	return resp, nil
}

// IsConnected reports whether a connection is currently held open.
func (p *PersistentClient) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}
