package description

import (
	"fmt"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
)

// Kind classifies the deployment shape the driver currently believes it is
// talking to.
type Kind uint32

// Topology kind constants.
const (
	KindUnknown Kind = 1 << iota
	KindSingle
	KindReplicaSetNoPrimary
	KindReplicaSetWithPrimary
	KindSharded
	KindLoadBalanced
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindSingle:
		return "Single"
	case KindReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case KindReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case KindSharded:
		return "Sharded"
	case KindLoadBalanced:
		return "LoadBalanced"
	default:
		return "invalid"
	}
}

// Topology is the aggregated, immutable view SDAM produces by folding
// server descriptions together. A new heartbeat reply never mutates an
// existing Topology; Apply returns a new one.
type Topology struct {
	Kind             Kind
	SetName          string
	MaxSetVersion    int64
	HasMaxSetVersion bool
	MaxElectionID    bson.ObjectID
	HasMaxElectionID bool
	Servers          map[address.Address]Server
	CompatibilityErr error
}

// NewTopology builds the initial Unknown-kind topology for the given seed
// list, matching the "Single iff exactly one configured seed" invariant
// when len(seeds) == 1 and directConnect is requested by the caller via
// initialKind.
func NewTopology(seeds []address.Address, initialKind Kind) Topology {
	servers := make(map[address.Address]Server, len(seeds))
	for _, s := range seeds {
		servers[s] = NewUnknownServer(s)
	}
	return Topology{Kind: initialKind, Servers: servers}
}

// Server looks up a server by address.
func (t Topology) Server(addr address.Address) (Server, bool) {
	s, ok := t.Servers[addr]
	return s, ok
}

// Primary returns the current RSPrimary, if the topology has one.
func (t Topology) Primary() (Server, bool) {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

// WithServer returns a copy of t with addr's description replaced by sd.
// Servers are never mutated in place — every transition produces a new map.
func (t Topology) WithServer(addr address.Address, sd Server) Topology {
	next := t.clone()
	next.Servers[addr] = sd
	return next
}

// WithoutServer returns a copy of t with addr removed entirely.
func (t Topology) WithoutServer(addr address.Address) Topology {
	next := t.clone()
	delete(next.Servers, addr)
	return next
}

func (t Topology) clone() Topology {
	servers := make(map[address.Address]Server, len(t.Servers))
	for k, v := range t.Servers {
		servers[k] = v
	}
	return Topology{
		Kind:             t.Kind,
		SetName:          t.SetName,
		MaxSetVersion:    t.MaxSetVersion,
		HasMaxSetVersion: t.HasMaxSetVersion,
		MaxElectionID:    t.MaxElectionID,
		HasMaxElectionID: t.HasMaxElectionID,
		Servers:          servers,
		CompatibilityErr: t.CompatibilityErr,
	}
}

// CheckCompatibility sets CompatibilityErr when any server's wire-version
// range does not intersect SupportedWireVersions. Every FSM transition ends
// by calling this so CompatibilityErr never goes stale.
func (t Topology) CheckCompatibility() Topology {
	for addr, s := range t.Servers {
		if s.Kind == Unknown {
			continue
		}
		if s.MaxWireVersion < SupportedWireVersions.Min {
			t.CompatibilityErr = fmt.Errorf("server %s reports wire version max %d, driver requires at least %d",
				addr, s.MaxWireVersion, SupportedWireVersions.Min)
			return t
		}
		if s.MinWireVersion > SupportedWireVersions.Max {
			t.CompatibilityErr = fmt.Errorf("server %s reports wire version min %d, driver supports at most %d",
				addr, s.MinWireVersion, SupportedWireVersions.Max)
			return t
		}
	}
	t.CompatibilityErr = nil
	return t
}
