// Package topology owns everything that turns raw heartbeat replies into
// selectable state: the per-server Monitor, the SDAM finite-state machine
// that folds a Server into a Topology, and the per-server connection Pool.
package topology

import (
	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/description"
)

// Apply folds a freshly observed Server description into old, returning the
// resulting Topology per the state table in §4.4. It never mutates old.
func Apply(old description.Topology, sd description.Server) description.Topology {
	if _, tracked := old.Server(sd.Address); !tracked {
		// Heartbeat for a server the topology has already dropped (e.g. a
		// removed replica set member); ignore.
		return old
	}

	switch old.Kind {
	case description.KindLoadBalanced:
		// A load-balanced deployment's single seed is assumed healthy:
		// heartbeat results for it are ignored.
		return old
	case description.KindUnknown:
		return applyToUnknown(old, sd)
	case description.KindSingle:
		return old.WithServer(sd.Address, sd).CheckCompatibility()
	case description.KindSharded:
		return applyToSharded(old, sd)
	case description.KindReplicaSetNoPrimary:
		return applyToReplicaSetNoPrimary(old, sd)
	case description.KindReplicaSetWithPrimary:
		return applyToReplicaSetWithPrimary(old, sd)
	default:
		return old
	}
}

func applyToUnknown(topo description.Topology, sd description.Server) description.Topology {
	switch sd.Kind {
	case description.Standalone:
		if len(topo.Servers) == 1 {
			topo.Kind = description.KindSingle
			return topo.WithServer(sd.Address, sd).CheckCompatibility()
		}
		// More than one seed configured but a standalone answered: drop it,
		// matching the source's "updateUnknownWithStandalone" carve-out.
		return topo.WithoutServer(sd.Address).CheckCompatibility()
	case description.Mongos:
		topo.Kind = description.KindSharded
		return topo.WithServer(sd.Address, sd).CheckCompatibility()
	case description.RSPrimary:
		topo = topo.WithServer(sd.Address, sd)
		return updateRSFromPrimary(topo, sd).CheckCompatibility()
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		topo.Kind = description.KindReplicaSetNoPrimary
		topo = topo.WithServer(sd.Address, sd)
		return updateRSWithoutPrimary(topo, sd).CheckCompatibility()
	case description.Unknown, description.RSGhost:
		return topo.WithServer(sd.Address, sd).CheckCompatibility()
	default:
		return topo.WithServer(sd.Address, sd).CheckCompatibility()
	}
}

func applyToSharded(topo description.Topology, sd description.Server) description.Topology {
	switch sd.Kind {
	case description.Unknown, description.Mongos:
		return topo.WithServer(sd.Address, sd).CheckCompatibility()
	default:
		// A sharded topology's members must all be mongos; anything else
		// gets dropped rather than allowed to desync routing.
		return topo.WithoutServer(sd.Address).CheckCompatibility()
	}
}

func applyToReplicaSetNoPrimary(topo description.Topology, sd description.Server) description.Topology {
	switch sd.Kind {
	case description.Unknown, description.RSGhost:
		return topo.WithServer(sd.Address, sd).CheckCompatibility()
	case description.RSPrimary:
		topo = topo.WithServer(sd.Address, sd)
		return updateRSFromPrimary(topo, sd).CheckCompatibility()
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		topo = topo.WithServer(sd.Address, sd)
		return updateRSWithoutPrimary(topo, sd).CheckCompatibility()
	default:
		return topo.WithoutServer(sd.Address).CheckCompatibility()
	}
}

func applyToReplicaSetWithPrimary(topo description.Topology, sd description.Server) description.Topology {
	switch sd.Kind {
	case description.Unknown:
		topo = topo.WithServer(sd.Address, sd)
		return checkIfHasPrimary(topo).CheckCompatibility()
	case description.RSPrimary:
		topo = topo.WithServer(sd.Address, sd)
		return updateRSFromPrimary(topo, sd).CheckCompatibility()
	case description.RSSecondary, description.RSArbiter, description.RSOther:
		topo = topo.WithServer(sd.Address, sd)
		return updateRSWithPrimaryFromMember(topo, sd).CheckCompatibility()
	default:
		topo = topo.WithoutServer(sd.Address)
		return checkIfHasPrimary(topo).CheckCompatibility()
	}
}

// updateRSFromPrimary applies a hello reply that claims to be primary,
// enforcing setName match and (setVersion, electionId) staleness before
// accepting it — the exact comparison the source's updateRSFromPrimary
// performs.
func updateRSFromPrimary(topo description.Topology, sd description.Server) description.Topology {
	if topo.SetName == "" {
		topo.SetName = sd.SetName
	} else if topo.SetName != sd.SetName {
		return checkIfHasPrimary(topo.WithoutServer(sd.Address))
	}

	if sd.HasSetVersion && sd.HasElectionID {
		if topo.HasMaxSetVersion && topo.HasMaxElectionID {
			if topo.MaxSetVersion > sd.SetVersion ||
				(topo.MaxSetVersion == sd.SetVersion && electionIDGreater(topo.MaxElectionID, sd.ElectionID)) {
				// Stale primary: keep it marked Unknown and retain whatever
				// primary we already believe in.
				stale := sd
				stale.Kind = description.Unknown
				topo = topo.WithServer(sd.Address, stale)
				return checkIfHasPrimary(topo)
			}
		}
		topo.MaxSetVersion = sd.SetVersion
		topo.HasMaxSetVersion = true
		topo.MaxElectionID = sd.ElectionID
		topo.HasMaxElectionID = true
	}

	// Demote any other server currently believed to be primary.
	for addr, other := range topo.Servers {
		if addr == sd.Address {
			continue
		}
		if other.Kind == description.RSPrimary {
			other.Kind = description.Unknown
			topo = topo.WithServer(addr, other)
		}
	}

	topo = reconcileRSMembership(topo, sd)
	return checkIfHasPrimary(topo)
}

func updateRSWithPrimaryFromMember(topo description.Topology, sd description.Server) description.Topology {
	if topo.SetName != "" && topo.SetName != sd.SetName {
		return checkIfHasPrimary(topo.WithoutServer(sd.Address))
	}
	if sd.HasPrimary && sd.Primary != sd.Address {
		if _, known := topo.Server(sd.Primary); !known {
			topo = topo.WithServer(sd.Primary, description.NewUnknownServer(sd.Primary))
		}
	}
	return checkIfHasPrimary(topo)
}

func updateRSWithoutPrimary(topo description.Topology, sd description.Server) description.Topology {
	if topo.SetName == "" {
		topo.SetName = sd.SetName
	} else if topo.SetName != sd.SetName {
		return topo.WithoutServer(sd.Address)
	}
	topo = reconcileRSMembership(topo, sd)
	return topo
}

// reconcileRSMembership adds any host/passive/arbiter the member reports
// that the topology does not yet track, as a fresh Unknown seed.
func reconcileRSMembership(topo description.Topology, sd description.Server) description.Topology {
	add := func(addrs []address.Address) {
		for _, a := range addrs {
			if _, known := topo.Server(a); !known {
				topo = topo.WithServer(a, description.NewUnknownServer(a))
			}
		}
	}
	add(sd.Hosts)
	add(sd.Passives)
	add(sd.Arbiters)
	return topo
}

// checkIfHasPrimary sets Kind to ReplicaSetWithPrimary or
// ReplicaSetNoPrimary depending on whether any tracked server is currently
// RSPrimary.
func checkIfHasPrimary(topo description.Topology) description.Topology {
	if _, ok := topo.Primary(); ok {
		topo.Kind = description.KindReplicaSetWithPrimary
	} else {
		topo.Kind = description.KindReplicaSetNoPrimary
	}
	return topo
}

// electionIDGreater reports whether a is lexicographically greater than b,
// used only to break ties when two primaries report equal setVersion.
func electionIDGreater(a, b bson.ObjectID) bool {
	return a.Compare(b) > 0
}
