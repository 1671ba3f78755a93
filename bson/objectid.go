package bson

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is the 12-byte identifier described in spec §3: a 4-byte
// seconds-since-epoch timestamp, a 5-byte per-process random value, and a
// 3-byte big-endian counter that increments monotonically within the
// process.
type ObjectID [12]byte

var objectIDCounter = newObjectIDCounter()
var processUnique = newProcessUnique()

func newObjectIDCounter() *uint32 {
	var b [3]byte
	_, _ = rand.Read(b[:])
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return &v
}

func newProcessUnique() [5]byte {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return b
}

// NewObjectID generates a new ObjectID using the current time, this
// process's random identity, and the next value of the process-wide
// counter.
func NewObjectID() ObjectID {
	var id ObjectID

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])

	c := atomic.AddUint32(objectIDCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// NilObjectID is the zero-value ObjectID.
var NilObjectID ObjectID

// IsZero reports whether id is the nil ObjectID.
func (id ObjectID) IsZero() bool {
	return id == NilObjectID
}

// Timestamp returns the creation time encoded in the ObjectID's first 4
// bytes.
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Hex returns the 24-character lowercase hex encoding of id.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer, rendering the canonical
// ObjectID("...") form used in extended JSON debug output.
func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

// ObjectIDFromHex parses the 24-character hex form produced by Hex.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("bson: invalid ObjectID length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("bson: invalid ObjectID %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// Compare orders two ObjectIDs byte-for-byte, which also orders them by
// creation time since the timestamp occupies the high-order bytes.
func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
