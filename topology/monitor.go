package topology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/event"
	"github.com/dkvstore/docdriver/tag"
)

// minHeartbeatFrequency is the floor below which RequestImmediateCheck
// cannot drive the effective heartbeat rate, per §4.3.
const minHeartbeatFrequency = 500 * time.Millisecond

const connectTimeout = 10 * time.Second

// MonitorConfig configures a Monitor's heartbeat cadence and dial policy.
type MonitorConfig struct {
	HeartbeatFrequency time.Duration
	Dialer             Dialer
}

// Monitor runs a dedicated heartbeat loop against a single server,
// producing a fresh description.Server on every successful or failed hello
// and fanning it out to subscribers (§4.3). Grounded on the teacher's
// server.Monitor: a background goroutine driven by a heartbeat timer and a
// rate-limited "check now" request, never by polling from the caller.
type Monitor struct {
	address address.Address
	cfg     MonitorConfig
	events  *event.SDAMPublisher

	descMu sync.Mutex
	desc   description.Server

	subMu       sync.Mutex
	subscribers map[int64]chan description.Server
	lastSubID   int64
	subsClosed  bool

	checkNow chan struct{}
	done     chan struct{}

	// connMu guards conn and rttConn: both run() (the main/streaming
	// heartbeat loop) and runRTT() (the dedicated RTT loop) own a
	// connection, and RequestImmediateCheck closes the main one from
	// whatever goroutine calls it.
	connMu  sync.Mutex
	conn    *Connection
	rttConn *Connection

	// topologyVersion is the last one observed on the main stream; once
	// set, subsequent hellos on that stream become awaitable (§4.3's
	// streaming discovery protocol), carrying it back with
	// maxAwaitTimeMS so the server blocks until something changes.
	topologyVersion *description.TopologyVersion

	// interrupting is set just before RequestImmediateCheck closes a live
	// streaming connection to unblock a pending awaitable hello, so the
	// resulting read error is recognized as self-inflicted rather than a
	// real failure.
	interrupting int32

	rttMu         sync.Mutex
	averageRTT    time.Duration
	averageRTTSet bool
}

// StartMonitor builds a Monitor and starts its heartbeat goroutine.
func StartMonitor(addr address.Address, cfg MonitorConfig, events *event.SDAMPublisher) *Monitor {
	if cfg.HeartbeatFrequency <= 0 {
		cfg.HeartbeatFrequency = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialTCP
	}
	m := &Monitor{
		address:     addr,
		cfg:         cfg,
		events:      events,
		desc:        description.NewUnknownServer(addr),
		subscribers: make(map[int64]chan description.Server),
		checkNow:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go m.run()
	go m.runRTT()
	return m
}

// Address returns the address this Monitor watches.
func (m *Monitor) Address() address.Address { return m.address }

// Stop ends the heartbeat loop and closes every subscriber channel.
func (m *Monitor) Stop() { close(m.done) }

// RequestImmediateCheck asks the monitor to heartbeat now instead of
// waiting for the next scheduled tick, subject to minHeartbeatFrequency. If
// the main stream is currently blocked inside an awaitable hello, the only
// way to honor "now" is to cancel it by closing the connection — the server
// has no cancellation message, so the client drops the socket and redials
// (§4.3).
func (m *Monitor) RequestImmediateCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}

	m.connMu.Lock()
	c := m.conn
	m.connMu.Unlock()
	if c != nil {
		atomic.StoreInt32(&m.interrupting, 1)
		_ = c.Close()
	}
}

func (m *Monitor) getConn() *Connection {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conn
}

func (m *Monitor) setConn(c *Connection) {
	m.connMu.Lock()
	m.conn = c
	m.connMu.Unlock()
}

func (m *Monitor) closeConn() {
	m.connMu.Lock()
	c := m.conn
	m.conn = nil
	m.connMu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (m *Monitor) closeRTTConn() {
	m.connMu.Lock()
	c := m.rttConn
	m.rttConn = nil
	m.connMu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Subscribe returns a channel delivering every new description.Server this
// Monitor produces, pre-populated with the current one, plus an
// unsubscribe function.
func (m *Monitor) Subscribe() (<-chan description.Server, func()) {
	ch := make(chan description.Server, 1)
	ch <- m.getDesc()

	m.subMu.Lock()
	if m.subsClosed {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.lastSubID++
	id := m.lastSubID
	m.subscribers[id] = ch
	m.subMu.Unlock()

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if !m.subsClosed {
			if c, ok := m.subscribers[id]; ok {
				close(c)
				delete(m.subscribers, id)
			}
		}
	}
	return ch, unsubscribe
}

func (m *Monitor) getDesc() description.Server {
	m.descMu.Lock()
	defer m.descMu.Unlock()
	return m.desc
}

func (m *Monitor) setDesc(sd description.Server) {
	m.descMu.Lock()
	m.desc = sd
	m.descMu.Unlock()
}

func (m *Monitor) broadcast(sd description.Server) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- sd
	}
}

func (m *Monitor) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subsClosed = true
}

func (m *Monitor) run() {
	heartbeatTimer := time.NewTimer(0)
	rateLimitTimer := time.NewTimer(0)
	defer heartbeatTimer.Stop()
	defer rateLimitTimer.Stop()

	tick := func() {
		<-rateLimitTimer.C
		for m.updateServer() {
			// A pending awaitable hello was cancelled to service an
			// immediate-check request; go again without waiting.
		}
		rateLimitTimer.Reset(minHeartbeatFrequency)
		heartbeatTimer.Reset(m.cfg.HeartbeatFrequency)
	}

	for {
		select {
		case <-heartbeatTimer.C:
			tick()
		case <-m.checkNow:
			tick()
		case <-m.done:
			m.closeConn()
			m.closeSubscribers()
			return
		}
	}
}

// updateServer runs one heartbeat and folds its result into the published
// description. It returns true only when the attempt failed because
// RequestImmediateCheck cancelled an in-flight awaitable hello — that is
// not a real failure, and the caller should retry immediately instead of
// publishing an Unknown transition.
func (m *Monitor) updateServer() bool {
	prev := m.getDesc()
	m.events.Publish(event.SDAM{Kind: event.ServerHeartbeatStarted, Address: m.address})

	sd, err := m.heartbeat()
	if err != nil {
		m.closeConn()
		if atomic.CompareAndSwapInt32(&m.interrupting, 1, 0) {
			return true
		}
		m.topologyVersion = nil
		sd = description.NewUnknownServer(m.address)
		sd.LastError = err
		m.events.Publish(event.SDAM{Kind: event.ServerHeartbeatFailed, Address: m.address, Failure: err})
	} else {
		if rtt, ok := m.getAverageRTT(); ok {
			sd.AverageRTT = rtt
			sd.HasAverageRTT = true
		}
		m.events.Publish(event.SDAM{Kind: event.ServerHeartbeatSucceeded, Address: m.address})
	}
	sd.LastUpdateTime = time.Now()

	m.setDesc(sd)
	m.events.Publish(event.SDAM{Kind: event.ServerDescriptionChanged, Address: m.address, PreviousServer: prev, NewServer: sd})
	m.broadcast(sd)
	return false
}

func (m *Monitor) getAverageRTT() (time.Duration, bool) {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()
	return m.averageRTT, m.averageRTTSet
}

// updateAverageRTT folds delay into the running EWMA with smoothing factor
// alpha=0.2, exactly as the teacher's Monitor.updateAverageRTT does. Called
// only from runRTT's dedicated connection, never from the main stream,
// since an awaitable hello's latency includes up to maxAwaitTimeMS of
// deliberate server-side blocking and would otherwise poison the average.
func (m *Monitor) updateAverageRTT(delay time.Duration) {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()
	if !m.averageRTTSet {
		m.averageRTT = delay
		m.averageRTTSet = true
	} else {
		const alpha = 0.2
		m.averageRTT = time.Duration(alpha*float64(delay) + (1-alpha)*float64(m.averageRTT))
	}
}

// heartbeat dials if needed and issues a hello on the main stream, returning
// the parsed server description on success. Once a prior reply carried a
// topologyVersion, every subsequent hello on this connection is awaitable:
// it attaches that topologyVersion plus maxAwaitTimeMS and blocks
// server-side until something changes or the timeout elapses (§4.3).
func (m *Monitor) heartbeat() (description.Server, error) {
	conn := m.getConn()
	if conn == nil {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		c, err := newConnection(ctx, 0, m.address, 0, m.cfg.Dialer)
		cancel()
		if err != nil {
			return description.Server{}, fmt.Errorf("topology: monitor dial: %w", err)
		}
		m.setConn(c)
		sd := c.HandshakeReply()
		m.topologyVersion = sd.TopologyVersion
		return sd, nil
	}

	timeout := connectTimeout
	var maxAwaitTimeMS int64
	if m.topologyVersion != nil {
		maxAwaitTimeMS = m.cfg.HeartbeatFrequency.Milliseconds()
		timeout += m.cfg.HeartbeatFrequency
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := buildHelloCommand(nil, m.topologyVersion, maxAwaitTimeMS)
	reply, err := sendHello(ctx, conn, cmd)
	if err != nil {
		return description.Server{}, err
	}
	sd := parseHelloReply(m.address, reply)
	m.topologyVersion = sd.TopologyVersion
	return sd, nil
}

// runRTT measures round-trip time on its own connection, independent of
// the main stream, which can spend up to maxAwaitTimeMS deliberately
// blocked once it negotiates the awaitable hello protocol (§4.3's
// "dedicated socket for RTT" requirement).
func (m *Monitor) runRTT() {
	ticker := time.NewTicker(minHeartbeatFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.pingRTT()
		case <-m.done:
			m.closeRTTConn()
			return
		}
	}
}

func (m *Monitor) pingRTT() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	m.connMu.Lock()
	conn := m.rttConn
	m.connMu.Unlock()

	if conn == nil {
		c, err := newConnection(ctx, 0, m.address, 0, m.cfg.Dialer)
		if err != nil {
			return
		}
		m.connMu.Lock()
		m.rttConn = c
		m.connMu.Unlock()
		return
	}

	start := time.Now()
	if _, err := sendHello(ctx, conn, buildHelloCommand(nil, nil, 0)); err != nil {
		m.closeRTTConn()
		return
	}
	m.updateAverageRTT(time.Since(start))
}

// parseHelloReply classifies the server and fills in the fields SDAM and
// selection depend on, per §4.3's description of a hello reply.
func parseHelloReply(addr address.Address, reply bson.Doc) description.Server {
	sd := description.Server{Address: addr}

	isWritablePrimary := boolField(reply, "isWritablePrimary") || boolField(reply, "ismaster")
	isSecondary := boolField(reply, "secondary")
	isArbiter := boolField(reply, "arbiterOnly")
	isReplicaSetGhost := boolField(reply, "isreplicaset")
	msgField, _ := reply.Lookup("msg")
	setName, hasSetName := stringField(reply, "setName")

	switch {
	case msgField.Type != 0 && msgField.StringValue() == "isdbgrid":
		sd.Kind = description.Mongos
	case hasSetName && isWritablePrimary:
		sd.Kind = description.RSPrimary
	case hasSetName && isSecondary:
		sd.Kind = description.RSSecondary
	case hasSetName && isArbiter:
		sd.Kind = description.RSArbiter
	case hasSetName:
		sd.Kind = description.RSOther
	case isReplicaSetGhost:
		sd.Kind = description.RSGhost
	default:
		sd.Kind = description.Standalone
	}
	sd.SetName = setName

	if v, ok := reply.Lookup("minWireVersion"); ok {
		sd.MinWireVersion = v.AsInt32()
	}
	if v, ok := reply.Lookup("maxWireVersion"); ok {
		sd.MaxWireVersion = v.AsInt32()
	}

	if v, ok := reply.Lookup("setVersion"); ok {
		sd.SetVersion = v.AsInt64()
		sd.HasSetVersion = true
	}
	if v, ok := reply.Lookup("electionId"); ok {
		sd.ElectionID = v.AsObjectID()
		sd.HasElectionID = true
	}
	if v, ok := reply.Lookup("primary"); ok {
		sd.Primary = address.Address(v.StringValue())
		sd.HasPrimary = true
	}
	if v, ok := reply.Lookup("logicalSessionTimeoutMinutes"); ok {
		sd.LogicalSessionTimeoutMinutes = v.AsInt32()
		sd.HasLogicalSessionTimeout = true
	}

	sd.Hosts = addressListField(reply, "hosts")
	sd.Passives = addressListField(reply, "passives")
	sd.Arbiters = addressListField(reply, "arbiters")

	if lw, ok := reply.Lookup("lastWrite"); ok {
		if lwDoc, err := lw.AsDocument(); err == nil {
			if v, ok := lwDoc.Lookup("lastWriteDate"); ok {
				sd.LastWriteDate = time.UnixMilli(v.AsDateTimeMS()).UTC()
				sd.HasLastWriteDate = true
			}
		}
	}

	if tv, ok := reply.Lookup("topologyVersion"); ok {
		if tvDoc, err := tv.AsDocument(); err == nil {
			t := &description.TopologyVersion{}
			if v, ok := tvDoc.Lookup("processId"); ok {
				t.ProcessID = v.AsObjectID()
			}
			if v, ok := tvDoc.Lookup("counter"); ok {
				t.Counter = v.AsInt64()
			}
			sd.TopologyVersion = t
		}
	}

	if tagsVal, ok := reply.Lookup("tags"); ok {
		if tagsDoc, err := tagsVal.AsDocument(); err == nil {
			m := make(map[string]string, len(tagsDoc))
			for _, e := range tagsDoc {
				m[e.Key] = e.Value.StringValue()
			}
			sd.Tags = tag.NewSetFromMap(m)
		}
	}

	return sd
}

func boolField(d bson.Doc, key string) bool {
	v, ok := d.Lookup(key)
	if !ok {
		return false
	}
	return v.AsBoolean()
}

func stringField(d bson.Doc, key string) (string, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return "", false
	}
	return v.StringValue(), true
}

func addressListField(d bson.Doc, key string) []address.Address {
	v, ok := d.Lookup(key)
	if !ok {
		return nil
	}
	arr, err := v.AsArray()
	if err != nil {
		return nil
	}
	out := make([]address.Address, 0, len(arr))
	for _, e := range arr {
		out = append(out, address.Address(e.StringValue()))
	}
	return out
}
