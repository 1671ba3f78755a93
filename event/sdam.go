package event

import (
	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/description"
)

// SDAMKind identifies which SDAM observability event fired, per §6.
type SDAMKind uint8

// SDAM event kinds.
const (
	ServerHeartbeatStarted SDAMKind = iota
	ServerHeartbeatSucceeded
	ServerHeartbeatFailed
	ServerDescriptionChanged
	TopologyDescriptionChanged
)

// SDAM is published for every heartbeat and topology/server description
// transition.
type SDAM struct {
	Kind         SDAMKind
	Address      address.Address
	PreviousServer description.Server
	NewServer      description.Server
	PreviousTopology description.Topology
	NewTopology      description.Topology
	Failure        error
}

// SDAMPublisher fans SDAM events out to subscribers.
type SDAMPublisher struct{ p *publisher[SDAM] }

// NewSDAMPublisher builds an empty publisher.
func NewSDAMPublisher() *SDAMPublisher { return &SDAMPublisher{p: newPublisher[SDAM]()} }

// Subscribe registers a listener.
func (sp *SDAMPublisher) Subscribe() (<-chan SDAM, func()) { return sp.p.Subscribe() }

// Publish fans an event out non-blocking.
func (sp *SDAMPublisher) Publish(e SDAM) { sp.p.Publish(e) }

// Dropped returns the count of events dropped for lagging subscribers.
func (sp *SDAMPublisher) Dropped() uint64 { return sp.p.Dropped() }
