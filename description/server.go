// Package description holds the immutable snapshots SDAM produces —
// ServerDescription and TopologyDescription — plus the pure server-selection
// function that reads them. Nothing here does I/O; Monitor and Topology
// build these values, Selector only reads them.
package description

import (
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/tag"
)

// ServerKind classifies a single server as reported by its own hello reply.
type ServerKind uint32

// Server kind constants. Bit-disjoint so a caller can build masks
// (e.g. "any replica set member") the way the teacher's description
// package does for topology kinds.
const (
	Unknown ServerKind = 1 << iota
	Standalone
	Mongos
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Standalone:
		return "Standalone"
	case Mongos:
		return "Mongos"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "invalid"
	}
}

// VersionRange is an inclusive [Min, Max] range of supported wire versions.
type VersionRange struct {
	Min, Max int32
}

// Includes reports whether v falls within the range.
func (r VersionRange) Includes(v int32) bool { return v >= r.Min && v <= r.Max }

// SupportedWireVersions is the range this driver negotiates.
var SupportedWireVersions = VersionRange{Min: 6, Max: 21}

// Server is one server's most recently observed description. Instances are
// never mutated after construction — a new heartbeat reply produces a new
// Server and replaces the old one wholesale in the owning Topology.
type Server struct {
	Address     address.Address
	Kind        ServerKind
	MinWireVersion int32
	MaxWireVersion int32
	Tags        tag.Set

	ElectionID  bson.ObjectID
	HasElectionID bool
	SetVersion  int64
	HasSetVersion bool
	SetName     string

	LogicalSessionTimeoutMinutes int32
	HasLogicalSessionTimeout    bool

	LastWriteDate time.Time
	HasLastWriteDate bool

	LastUpdateTime time.Time

	AverageRTT    time.Duration
	HasAverageRTT bool

	Hosts    []address.Address
	Passives []address.Address
	Arbiters []address.Address
	Primary  address.Address
	HasPrimary bool

	TopologyVersion *TopologyVersion

	LastError error
}

// TopologyVersion tracks the monotonic counter a server attaches to hello
// replies, used to decide whether a network error is stale relative to a
// topology change the driver already knows about.
type TopologyVersion struct {
	ProcessID bson.ObjectID
	Counter   int64
}

// GreaterThan reports whether tv is strictly newer than other. A nil other
// is always considered older.
func (tv *TopologyVersion) GreaterThan(other *TopologyVersion) bool {
	if tv == nil {
		return false
	}
	if other == nil {
		return true
	}
	if tv.ProcessID != other.ProcessID {
		return true
	}
	return tv.Counter > other.Counter
}

// NewUnknownServer builds the zero-information description assigned to a
// seed before its first heartbeat completes, and to any server whose
// heartbeat just failed.
func NewUnknownServer(addr address.Address) Server {
	return Server{
		Address:        addr,
		Kind:           Unknown,
		LastUpdateTime: time.Now(),
	}
}

// IsDataBearing reports whether the server kind can serve reads/writes
// directly (excludes Unknown, RSArbiter, RSOther, RSGhost).
func (s Server) IsDataBearing() bool {
	switch s.Kind {
	case Standalone, Mongos, RSPrimary, RSSecondary, LoadBalancer:
		return true
	default:
		return false
	}
}
