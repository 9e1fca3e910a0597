package calib

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Endpoint is one worker address. Liveness is tracked by the pool, not the
// endpoint itself: once an endpoint is marked dead it stays dead for the
// whole optimization case.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the dialable host:port form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ServerPool hands out worker endpoints to evaluation tasks, at most one
// task per endpoint at a time. The buffered availability channel doubles as
// the concurrency limiter: the number of in-flight worker jobs can never
// exceed the number of live endpoints.
type ServerPool struct {
	avail chan Endpoint

	mu      sync.Mutex
	known   []Endpoint
	dead    map[Endpoint]bool
	allDead chan struct{} // closed when the last endpoint is retired
}

// NewServerPool builds a pool with every endpoint available and live.
func NewServerPool(endpoints []Endpoint) (*ServerPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("server pool needs at least one endpoint")
	}
	seen := make(map[Endpoint]bool, len(endpoints))
	p := &ServerPool{
		avail:   make(chan Endpoint, len(endpoints)),
		known:   make([]Endpoint, 0, len(endpoints)),
		dead:    make(map[Endpoint]bool, len(endpoints)),
		allDead: make(chan struct{}),
	}
	for _, e := range endpoints {
		if seen[e] {
			return nil, fmt.Errorf("duplicate endpoint %s", e.Addr())
		}
		seen[e] = true
		p.known = append(p.known, e)
		p.avail <- e
	}
	return p, nil
}

// Checkout blocks until an endpoint is available, the context is cancelled,
// or every endpoint has been retired. A dead endpoint is never handed out.
func (p *ServerPool) Checkout(ctx context.Context) (Endpoint, error) {
	for {
		select {
		case e := <-p.avail:
			p.mu.Lock()
			retired := p.dead[e]
			p.mu.Unlock()
			if retired {
				// Returned concurrently with MarkDead; drop it and wait on.
				continue
			}
			return e, nil
		case <-p.allDead:
			return Endpoint{}, &AllEndpointsDead{}
		case <-ctx.Done():
			return Endpoint{}, ctx.Err()
		}
	}
}

// Return makes the endpoint available to the next waiter. Calling Return on
// a retired endpoint is a no-op.
func (p *ServerPool) Return(e Endpoint) {
	p.mu.Lock()
	retired := p.dead[e]
	p.mu.Unlock()
	if retired {
		return
	}
	// Capacity equals the endpoint count, so this send cannot block.
	p.avail <- e
}

// MarkDead retires the endpoint permanently. Idempotent; unknown endpoints
// are ignored so the dead count can never outrun the known set. When the
// last live endpoint dies, every current and future Checkout waiter is
// released with AllEndpointsDead.
func (p *ServerPool) MarkDead(e Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead[e] || !p.member(e) {
		return
	}
	p.dead[e] = true
	if len(p.dead) == len(p.known) {
		close(p.allDead)
	}
}

// member reports whether e belongs to the pool. Caller holds mu.
func (p *ServerPool) member(e Endpoint) bool {
	for _, known := range p.known {
		if known == e {
			return true
		}
	}
	return false
}

// AllDead reports whether every known endpoint has been retired.
func (p *ServerPool) AllDead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dead) == len(p.known)
}

// Live returns the number of endpoints not yet retired.
func (p *ServerPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.known) - len(p.dead)
}

// Size returns the total number of configured endpoints.
func (p *ServerPool) Size() int {
	return len(p.known)
}
