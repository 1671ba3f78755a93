// Package session implements logical sessions: server-session pool reuse,
// cluster-time/operation-time causal consistency tracking, and the
// transaction numbering retryable writes rely on (§4.7).
package session

import (
	"sync"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/bson/bsontype"
)

// ClusterTime is the {clusterTime: timestamp, signature: document} document
// a deployment attaches to replies, per §3.
type ClusterTime bson.Doc

// timestamp extracts the clusterTime.timestamp field, returning the zero
// Timestamp if absent.
func (ct ClusterTime) timestamp() bson.Timestamp {
	v, ok := bson.Doc(ct).Lookup("clusterTime")
	if !ok || v.Type != bsontype.Timestamp {
		return bson.Timestamp{}
	}
	return v.AsTimestamp()
}

// MaxClusterTime returns whichever of a, b carries the later timestamp. A
// nil operand loses to any non-nil one.
func MaxClusterTime(a, b ClusterTime) ClusterTime {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.timestamp().After(a.timestamp()) {
		return b
	}
	return a
}

// ClusterClock is the per-client logical clock every session advances
// through, so cluster time monotonicity holds across sessions sharing a
// Client, not just within one.
type ClusterClock struct {
	mu   sync.Mutex
	time ClusterTime
}

// GetClusterTime returns the clock's current value.
func (c *ClusterClock) GetClusterTime() ClusterTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// AdvanceClusterTime folds in a newly observed cluster time if it is newer.
func (c *ClusterClock) AdvanceClusterTime(ct ClusterTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = MaxClusterTime(c.time, ct)
}

// Seen reports whether the clock has ever observed a cluster time, which
// gates whether $clusterTime is attached to outgoing commands (§4.7: "iff
// the deployment has ever returned one").
func (c *ClusterClock) Seen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time != nil
}
