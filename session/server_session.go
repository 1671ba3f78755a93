package session

import (
	"time"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/bson/bsontype"
	"github.com/google/uuid"
)

// LSIDUUIDSubtype is the binary subtype an lsid's UUID is encoded as on the
// wire (binary subtype 0x04, per §4.7).
const LSIDUUIDSubtype = bsontype.BinaryUUID

// ServerSession is a server-assigned identity a Client session wraps. Its
// lsid document is stable for the session's lifetime; only LastUse and
// TxnNumber change as it's reused.
type ServerSession struct {
	ID         bson.Doc
	LastUse    time.Time
	TxnNumber  int64
}

func newServerSession() *ServerSession {
	id := uuid.New()
	return &ServerSession{
		ID:      bson.Doc{bson.E("id", bson.BinaryValue(LSIDUUIDSubtype, id[:]))},
		LastUse: time.Now(),
	}
}

// expired reports whether ss has been idle long enough that a fresh session
// should be minted instead — "less than 1 minute left before becoming
// stale" per §4.7.
func (ss *ServerSession) expired(timeoutMinutes int32) bool {
	if timeoutMinutes <= 0 {
		return false
	}
	idle := time.Since(ss.LastUse)
	return idle > time.Duration(timeoutMinutes-1)*time.Minute
}

func (ss *ServerSession) updateUseTime() { ss.LastUse = time.Now() }

// NextTxnNumber allocates the next retryable-write transaction number.
func (ss *ServerSession) NextTxnNumber() int64 {
	ss.TxnNumber++
	return ss.TxnNumber
}
