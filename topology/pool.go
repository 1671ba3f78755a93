package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/event"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned from Checkout once the pool has been
// disconnected.
var ErrPoolClosed = fmt.Errorf("topology: connection pool is closed")

const (
	poolDisconnected int32 = iota
	poolConnected
)

// PoolConfig configures a Pool's sizing and eviction policy (§4.6).
type PoolConfig struct {
	MinSize           uint64
	MaxSize           uint64
	MaxIdleTime       time.Duration
	WaitQueueTimeout  time.Duration
	Dialer            Dialer
}

// Pool is a bounded, per-server connection pool. It tracks a generation
// counter incremented on clear(); checked-out connections compare their
// stamped generation against the pool's current one on return and are
// dropped instead of reused when stale.
type Pool struct {
	address address.Address
	cfg     PoolConfig
	events  *event.PoolPublisher

	mu         sync.Mutex
	idle       []*Connection
	generation uint64
	nextID     uint64
	connected  int32

	sem *semaphore.Weighted
}

// NewPool builds a Pool for address, not yet connected.
func NewPool(addr address.Address, cfg PoolConfig, events *event.PoolPublisher) *Pool {
	if cfg.Dialer == nil {
		cfg.Dialer = DialTCP
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100
	}
	return &Pool{
		address: addr,
		cfg:     cfg,
		events:  events,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSize)),
	}
}

// Connect marks the pool usable and bumps its generation, then starts the
// minPoolSize top-up loop in the background.
func (p *Pool) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.connected, poolDisconnected, poolConnected) {
		return fmt.Errorf("topology: pool already connected")
	}
	atomic.AddUint64(&p.generation, 1)
	if p.cfg.MinSize > 0 {
		go p.maintainMinSize(ctx)
	}
	return nil
}

// Checkout pops an idle connection, establishing a new one if none is
// idle and room remains under maxPoolSize; otherwise it waits for a
// connection to be returned or for the deadline carried by ctx (§4.6).
func (p *Pool) Checkout(ctx context.Context) (*Connection, error) {
	if atomic.LoadInt32(&p.connected) != poolConnected {
		return nil, ErrPoolClosed
	}

	p.events.Publish(event.Pool{Kind: event.PoolCheckOutStarted, Address: p.address})

	for {
		p.mu.Lock()
		gen := p.generation
		if len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()

			if c.staleFor(gen) || c.idleFor(p.cfg.MaxIdleTime) {
				_ = c.Close()
				p.sem.Release(1)
				p.events.Publish(event.Pool{Kind: event.ConnectionClosed, Address: p.address, ConnectionID: c.id})
				continue
			}
			p.events.Publish(event.Pool{Kind: event.ConnectionCheckedOut, Address: p.address, ConnectionID: c.id})
			return c, nil
		}
		p.mu.Unlock()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("topology: checkout wait: %w", err)
		}

		c, err := p.dial(ctx, gen)
		if err != nil {
			p.sem.Release(1)
			p.events.Publish(event.Pool{Kind: event.ConnectionCheckOutFailed, Address: p.address})
			return nil, err
		}
		p.events.Publish(event.Pool{Kind: event.ConnectionCheckedOut, Address: p.address, ConnectionID: c.id})
		return c, nil
	}
}

func (p *Pool) dial(ctx context.Context, generation uint64) (*Connection, error) {
	id := atomic.AddUint64(&p.nextID, 1)
	p.events.Publish(event.Pool{Kind: event.ConnectionCreated, Address: p.address, ConnectionID: id})
	c, err := newConnection(ctx, id, p.address, generation, p.cfg.Dialer)
	if err != nil {
		return nil, err
	}
	p.events.Publish(event.Pool{Kind: event.ConnectionReady, Address: p.address, ConnectionID: id})
	return c, nil
}

// Checkin returns c to the idle pool, or closes it if it is marked bad,
// stale, or the pool has no room to hold it (§4.6's checkin/head-push).
func (p *Pool) Checkin(c *Connection, bad bool) {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	if bad || c.staleFor(gen) || atomic.LoadInt32(&p.connected) != poolConnected {
		_ = c.Close()
		p.sem.Release(1)
		p.events.Publish(event.Pool{Kind: event.ConnectionClosed, Address: p.address, ConnectionID: c.id})
		return
	}

	p.mu.Lock()
	if uint64(len(p.idle)) >= p.cfg.MaxSize {
		p.mu.Unlock()
		_ = c.Close()
		p.sem.Release(1)
		p.events.Publish(event.Pool{Kind: event.ConnectionClosed, Address: p.address, ConnectionID: c.id})
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	p.events.Publish(event.Pool{Kind: event.ConnectionCheckedIn, Address: p.address, ConnectionID: c.id})
}

// Clear increments the generation so in-use connections are dropped, not
// reused, on their next Checkin. Triggered on network error (§4.6) or an
// SDAM transition to Unknown.
func (p *Pool) Clear() {
	p.mu.Lock()
	atomic.AddUint64(&p.generation, 1)
	stale := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
		p.sem.Release(1)
	}
	p.events.Publish(event.Pool{Kind: event.PoolCleared, Address: p.address})
}

// Disconnect closes every idle connection and marks the pool unusable.
// In-flight checkouts are left to be closed by their own Checkin once they
// observe the bumped generation.
func (p *Pool) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.connected, poolConnected, poolDisconnected) {
		return fmt.Errorf("topology: pool already disconnected")
	}
	p.Clear()
	return nil
}

func (p *Pool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// maintainMinSize tops the idle pool up to MinSize in the background,
// matching §4.6's "minSize maintained by a background top-up goroutine".
func (p *Pool) maintainMinSize(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for atomic.LoadInt32(&p.connected) == poolConnected && uint64(p.idleCount()) < p.cfg.MinSize {
				if err := p.sem.Acquire(ctx, 1); err != nil {
					return
				}
				p.mu.Lock()
				gen := p.generation
				p.mu.Unlock()
				c, err := p.dial(ctx, gen)
				if err != nil {
					p.sem.Release(1)
					return
				}
				p.mu.Lock()
				p.idle = append(p.idle, c)
				p.mu.Unlock()
			}
		}
	}
}
