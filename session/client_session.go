package session

import (
	"fmt"
	"sync/atomic"

	"github.com/dkvstore/docdriver/bson"
)

// Kind distinguishes a session a caller started explicitly from one an
// operation creates implicitly for itself.
type Kind uint8

// Kind constants.
const (
	Explicit Kind = iota
	Implicit
)

// MinWireVersionForClusterTime is the minimum wire version a deployment
// must report before $clusterTime is meaningful in its replies.
const MinWireVersionForClusterTime = 6

// Client is a logical session: a stable lsid, the causal-consistency
// clocks it carries, and retry/in-use bookkeeping. Exactly one of its
// fields is ever mutated concurrently from outside — see active, guarded
// by CompareAndSwap so "used concurrently from two operations" is
// detectable without a full mutex.
type Client struct {
	Kind             Kind
	CausalConsistency bool

	ClusterTime  ClusterTime
	OperationTime bson.Timestamp
	hasOperationTime bool

	clientID   uint64
	pool       *Pool
	serverSess *ServerSession
	terminated bool
	active     int32 // 0 = idle, 1 = in use; swapped atomically
}

// NewClient starts a session by popping (or minting) a server session from
// pool. clientID identifies the owning Client instance, for cross-client
// validation in Validate.
func NewClient(pool *Pool, clientID uint64, kind Kind, causalConsistency bool) *Client {
	return &Client{
		Kind:              kind,
		CausalConsistency: causalConsistency,
		clientID:          clientID,
		pool:              pool,
		serverSess:        pool.GetSession(),
	}
}

// LSID returns the session's lsid document, attached to every outgoing
// command.
func (c *Client) LSID() bson.Doc { return c.serverSess.ID }

// Begin marks the session in-use for the duration of one operation,
// failing if it is already in use by another concurrent operation.
func (c *Client) Begin() error {
	if !atomic.CompareAndSwapInt32(&c.active, 0, 1) {
		return fmt.Errorf("session: already in use by another operation")
	}
	return nil
}

// End releases the in-use flag set by Begin.
func (c *Client) End() { atomic.StoreInt32(&c.active, 0) }

// Validate rejects a session whose database/collection/client was derived
// from a different client instance than callerClientID.
func (c *Client) Validate(callerClientID uint64) error {
	if c.terminated {
		return fmt.Errorf("session: inactive session used")
	}
	if c.clientID != callerClientID {
		return fmt.Errorf("session: session was created by a different client instance")
	}
	return nil
}

// AdvanceClusterTime folds a newly observed $clusterTime into the session,
// per §4.7's "every successful reply advances session.clusterTime" rule.
func (c *Client) AdvanceClusterTime(ct ClusterTime) {
	c.ClusterTime = MaxClusterTime(c.ClusterTime, ct)
}

// AdvanceOperationTime folds a newly observed operationTime into the
// session if it is newer. Callers must skip this for unacknowledged (w=0)
// writes, per §4.7.
func (c *Client) AdvanceOperationTime(t bson.Timestamp) {
	if !c.hasOperationTime || t.After(c.OperationTime) {
		c.OperationTime = t
		c.hasOperationTime = true
	}
}

// AfterClusterTime returns the operationTime to inject as
// readConcern.afterClusterTime for the next read in this session, and
// whether one should be injected at all (false on the session's first
// read).
func (c *Client) AfterClusterTime() (bson.Timestamp, bool) {
	if !c.CausalConsistency || !c.hasOperationTime {
		return bson.Timestamp{}, false
	}
	return c.OperationTime, true
}

// NextTxnNumber allocates the next retryable-write transaction number for
// this session's server session.
func (c *Client) NextTxnNumber() int64 { return c.serverSess.NextTxnNumber() }

// UpdateUseTime must be called whenever the session is used to send a
// command, so pool expiry accounting stays accurate.
func (c *Client) UpdateUseTime() { c.serverSess.updateUseTime() }

// EndSession returns the session's server session to the pool (if still
// fresh) and marks this Client terminated. Idempotent.
func (c *Client) EndSession() {
	if c.terminated {
		return
	}
	c.terminated = true
	c.pool.ReturnSession(c.serverSess)
}

// Active reports whether EndSession has not yet been called.
func (c *Client) Active() bool { return !c.terminated }
