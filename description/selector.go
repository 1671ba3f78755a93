package description

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/readpref"
)

// SelectionError is returned when no server satisfies the read preference
// within the caller's deadline. It carries the topology snapshot and read
// preference that produced it, per spec §4.5.
type SelectionError struct {
	Topology Topology
	ReadPref *readpref.ReadPref
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("server selection timeout: no server matching %s in topology %s", e.ReadPref.Mode(), e.Topology.Kind)
}

// OperationCounter reports the current in-flight operation count for a
// server, consulted only by the pick-of-two tiebreak in step 6.
type OperationCounter func(address.Address) int64

// SelectServers runs steps 1 through 5 of §4.5 against a single topology
// snapshot and returns the surviving candidate set. An empty, non-error
// result means "retry against a fresher snapshot", not failure.
func SelectServers(topo Topology, rp *readpref.ReadPref, heartbeatFrequency, localThreshold time.Duration) ([]Server, error) {
	if topo.CompatibilityErr != nil {
		return nil, topo.CompatibilityErr
	}

	candidates := suitableSet(topo, rp)
	candidates = applyMaxStalenessFilter(topo, candidates, rp, heartbeatFrequency)
	candidates = applyTagSetFilter(candidates, rp)
	candidates = applyLatencyWindow(candidates, localThreshold)
	return candidates, nil
}

// suitableSet implements step 2.
func suitableSet(topo Topology, rp *readpref.ReadPref) []Server {
	switch topo.Kind {
	case KindUnknown:
		return nil
	case KindSingle, KindLoadBalanced:
		return allServers(topo)
	case KindSharded:
		return byKind(topo, Mongos)
	default: // ReplicaSetNoPrimary / ReplicaSetWithPrimary
		return suitableReplicaSet(topo, rp)
	}
}

func suitableReplicaSet(topo Topology, rp *readpref.ReadPref) []Server {
	primary, hasPrimary := topo.Primary()
	secondaries := byKind(topo, RSSecondary)

	switch rp.Mode() {
	case readpref.PrimaryMode:
		if !hasPrimary {
			return nil
		}
		return []Server{primary}
	case readpref.SecondaryMode:
		return secondaries
	case readpref.NearestMode:
		if hasPrimary {
			return append([]Server{primary}, secondaries...)
		}
		return secondaries
	case readpref.PrimaryPreferredMode:
		if hasPrimary {
			return []Server{primary}
		}
		return secondaries
	case readpref.SecondaryPreferredMode:
		if len(secondaries) > 0 {
			return secondaries
		}
		if hasPrimary {
			return []Server{primary}
		}
		return nil
	default:
		return nil
	}
}

func allServers(topo Topology) []Server {
	out := make([]Server, 0, len(topo.Servers))
	for _, s := range topo.Servers {
		if s.Kind != Unknown {
			out = append(out, s)
		}
	}
	return out
}

func byKind(topo Topology, kind ServerKind) []Server {
	var out []Server
	for _, s := range topo.Servers {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// applyMaxStalenessFilter implements step 3. Only active when the read
// preference carries a positive maxStaleness.
func applyMaxStalenessFilter(topo Topology, candidates []Server, rp *readpref.ReadPref, heartbeatFrequency time.Duration) []Server {
	maxStale, ok := rp.MaxStaleness()
	if !ok || maxStale <= 0 {
		return candidates
	}

	primary, hasPrimary := topo.Primary()
	var maxLastWriteDate time.Time
	if !hasPrimary {
		for _, s := range candidates {
			if s.HasLastWriteDate && s.LastWriteDate.After(maxLastWriteDate) {
				maxLastWriteDate = s.LastWriteDate
			}
		}
	}

	out := make([]Server, 0, len(candidates))
	for _, s := range candidates {
		if s.Kind == RSPrimary || !s.HasLastWriteDate {
			out = append(out, s)
			continue
		}
		var staleness time.Duration
		if hasPrimary {
			staleness = (s.LastUpdateTime.Sub(s.LastWriteDate)) -
				(primary.LastUpdateTime.Sub(primary.LastWriteDate)) + heartbeatFrequency
		} else {
			staleness = maxLastWriteDate.Sub(s.LastWriteDate) + heartbeatFrequency
		}
		if staleness.Round(time.Millisecond) <= maxStale {
			out = append(out, s)
		}
	}
	return out
}

// applyTagSetFilter implements step 4: the first tag set (in order) with a
// non-empty match wins; no tag sets configured means no filtering.
func applyTagSetFilter(candidates []Server, rp *readpref.ReadPref) []Server {
	sets := rp.TagSets()
	if len(sets) == 0 {
		return candidates
	}
	for _, set := range sets {
		var matched []Server
		for _, s := range candidates {
			if s.Tags.ContainsAll(set) {
				matched = append(matched, s)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// applyLatencyWindow implements step 5.
func applyLatencyWindow(candidates []Server, localThreshold time.Duration) []Server {
	if len(candidates) == 0 {
		return candidates
	}
	min := candidates[0].AverageRTT
	for _, s := range candidates[1:] {
		if s.HasAverageRTT && (min == 0 || s.AverageRTT < min) {
			min = s.AverageRTT
		}
	}
	out := make([]Server, 0, len(candidates))
	for _, s := range candidates {
		if !s.HasAverageRTT || s.AverageRTT <= min+localThreshold {
			out = append(out, s)
		}
	}
	return out
}

// PickOfTwo implements step 6 given a non-empty candidate set: zero callers
// handle retry themselves, one candidate returns outright, two or more are
// sampled twice and the less-loaded (by opCount) wins ties broken by the
// first sample — the same tiebreak the source uses.
func PickOfTwo(candidates []Server, opCount OperationCounter, rnd *rand.Rand) Server {
	if len(candidates) == 1 {
		return candidates[0]
	}
	i := rnd.Intn(len(candidates))
	j := rnd.Intn(len(candidates))
	for j == i && len(candidates) > 1 {
		j = rnd.Intn(len(candidates))
	}
	a, b := candidates[i], candidates[j]
	if opCount(b.Address) < opCount(a.Address) {
		return b
	}
	return a
}

// SelectServer runs the full retry loop described in §4.5: try a snapshot,
// and if nothing is suitable, block on updates until the context's deadline
// rather than poll.
func SelectServer(ctx context.Context, initial Topology, rp *readpref.ReadPref, heartbeatFrequency, localThreshold time.Duration, opCount OperationCounter, rnd *rand.Rand, updates <-chan Topology) (Server, error) {
	topo := initial
	for {
		candidates, err := SelectServers(topo, rp, heartbeatFrequency, localThreshold)
		if err != nil {
			return Server{}, err
		}
		if len(candidates) > 0 {
			return PickOfTwo(candidates, opCount, rnd), nil
		}

		select {
		case <-ctx.Done():
			return Server{}, &SelectionError{Topology: topo, ReadPref: rp}
		case next, ok := <-updates:
			if !ok {
				return Server{}, &SelectionError{Topology: topo, ReadPref: rp}
			}
			topo = next
		}
	}
}
