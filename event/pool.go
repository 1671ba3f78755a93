package event

import "github.com/dkvstore/docdriver/address"

// PoolKind identifies which connection pool lifecycle event fired, per §6.
type PoolKind uint8

// Pool event kinds.
const (
	PoolCheckOutStarted PoolKind = iota
	ConnectionCreated
	ConnectionReady
	ConnectionCheckedOut
	ConnectionCheckOutFailed
	ConnectionCheckedIn
	ConnectionClosed
	PoolCleared
)

// Pool is published for every checkout, checkin, dial, close, and clear of
// a per-server connection pool.
type Pool struct {
	Kind         PoolKind
	Address      address.Address
	ConnectionID uint64
}

// PoolPublisher fans Pool events out to subscribers.
type PoolPublisher struct{ p *publisher[Pool] }

// NewPoolPublisher builds an empty publisher.
func NewPoolPublisher() *PoolPublisher { return &PoolPublisher{p: newPublisher[Pool]()} }

// Subscribe registers a listener.
func (pp *PoolPublisher) Subscribe() (<-chan Pool, func()) { return pp.p.Subscribe() }

// Publish fans an event out non-blocking.
func (pp *PoolPublisher) Publish(e Pool) { pp.p.Publish(e) }

// Dropped returns the count of events dropped for lagging subscribers.
func (pp *PoolPublisher) Dropped() uint64 { return pp.p.Dropped() }
