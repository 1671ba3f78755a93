package session

import (
	"sync"

	"github.com/dkvstore/docdriver/bson"
)

// EndSessionsBatchSize is the maximum number of lsids sent in a single
// endSessions command when draining the pool (§4.7).
const EndSessionsBatchSize = 10000

// Pool is a per-client stack of server sessions available for reuse. Push
// and pop are both LIFO, matching the source's head-insertion pool and the
// "start C,D — their lsids equal {A,B}'s in LIFO order" test scenario.
type Pool struct {
	mu             sync.Mutex
	sessions       []*ServerSession
	timeoutMinutes int32
}

// NewPool builds an empty pool. timeoutMinutes is the deployment's
// logicalSessionTimeoutMinutes; it changes only through SetTimeout.
func NewPool(timeoutMinutes int32) *Pool {
	return &Pool{timeoutMinutes: timeoutMinutes}
}

// SetTimeout updates the timeout used to evaluate expiry. The client and
// topology packages do not call it.
func (p *Pool) SetTimeout(minutes int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeoutMinutes = minutes
}

// GetSession pops an unexpired session from the top of the stack, minting a
// fresh one if the stack is empty or its top entry has expired.
func (p *Pool) GetSession() *ServerSession {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.sessions) > 0 {
		top := p.sessions[len(p.sessions)-1]
		p.sessions = p.sessions[:len(p.sessions)-1]
		if !top.expired(p.timeoutMinutes) {
			return top
		}
	}
	return newServerSession()
}

// ReturnSession pushes ss back onto the stack if it is still fresh;
// otherwise it is discarded.
func (p *Pool) ReturnSession(ss *ServerSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ss.expired(p.timeoutMinutes) {
		return
	}
	p.sessions = append(p.sessions, ss)
}

// Drain removes every pooled session and returns their lsid documents
// batched into groups of at most EndSessionsBatchSize, for the caller to
// send as endSessions commands on client shutdown.
func (p *Pool) Drain() [][]bson.Doc {
	p.mu.Lock()
	all := p.sessions
	p.sessions = nil
	p.mu.Unlock()

	if len(all) == 0 {
		return nil
	}

	var batches [][]bson.Doc
	for len(all) > 0 {
		n := EndSessionsBatchSize
		if n > len(all) {
			n = len(all)
		}
		batch := make([]bson.Doc, n)
		for i := 0; i < n; i++ {
			batch[i] = all[i].ID
		}
		batches = append(batches, batch)
		all = all[n:]
	}
	return batches
}
