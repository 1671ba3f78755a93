package topology

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/description"
)

// Dialer opens the transport for a new Connection. TLS and SASL
// negotiation are assumed to happen inside a Dialer implementation — both
// are out of scope for this driver and are consumed only through this
// interface, per §1.
type Dialer func(ctx context.Context, addr address.Address) (net.Conn, error)

// DialTCP is the default Dialer: a plain net.Dial over the address's
// network/string form.
func DialTCP(ctx context.Context, addr address.Address) (net.Conn, error) {
	return (&net.Dialer{}).DialContext(ctx, addr.Network(), addr.String())
}

// Connection is one established, handshaken connection to a server. Its
// generation is stamped when it is dialed, with the owning Pool's generation
// at that moment; a stale generation makes it disposable instead of reusable
// (§3's Connection invariant).
type Connection struct {
	id         uint64
	Address    address.Address
	generation uint64
	WireVersionRange description.VersionRange
	lastUsed   time.Time
	establishedAt time.Time

	netConn net.Conn
	closed  int32

	handshakeReply description.Server
}

// newConnection dials addr and completes its hello handshake before
// returning — §4.6 requires the handshake finish before a connection is
// handed to any caller, so WireVersionRange is always populated on a
// Connection a pool or monitor hands out.
func newConnection(ctx context.Context, id uint64, addr address.Address, generation uint64, dial Dialer) (*Connection, error) {
	nc, err := dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("topology: dial %s: %w", addr, err)
	}
	c := &Connection{
		id:            id,
		Address:       addr,
		generation:    generation,
		netConn:       nc,
		lastUsed:      time.Now(),
		establishedAt: time.Now(),
	}

	sd, err := handshake(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("topology: handshake %s: %w", addr, err)
	}
	c.WireVersionRange = description.VersionRange{Min: sd.MinWireVersion, Max: sd.MaxWireVersion}
	c.handshakeReply = sd

	return c, nil
}

// HandshakeReply returns the server description the connection's initial
// hello produced, letting a caller that just dialed (e.g. Monitor) reuse it
// as that server's first reading instead of round-tripping a second hello.
func (c *Connection) HandshakeReply() description.Server { return c.handshakeReply }

// Write sends a framed wire message. Commands on the same connection are
// strictly serialised request-then-reply by the caller (§5).
func (c *Connection) Write(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetWriteDeadline(dl)
	}
	_, err := c.netConn.Write(b)
	c.lastUsed = time.Now()
	return err
}

// Read reads exactly len(b) bytes — callers read the 4-byte length prefix
// first, then the remainder of the message.
func (c *Connection) Read(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetReadDeadline(dl)
	}
	_, err := readFull(c.netConn, b)
	c.lastUsed = time.Now()
	return err
}

func readFull(r net.Conn, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close tears down the underlying transport. Idempotent.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.netConn.Close()
}

// ID returns the connection's pool-local identifier, used in pool events.
func (c *Connection) ID() uint64 { return c.id }

// staleFor reports whether c's generation predates currentGeneration,
// meaning it must be destroyed on return rather than pooled.
func (c *Connection) staleFor(currentGeneration uint64) bool {
	return c.generation < currentGeneration
}

// idleFor reports whether c has been idle at least maxIdle (0 disables the
// check).
func (c *Connection) idleFor(maxIdle time.Duration) bool {
	return maxIdle > 0 && time.Since(c.lastUsed) >= maxIdle
}
