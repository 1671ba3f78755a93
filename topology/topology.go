package topology

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/event"
	"github.com/dkvstore/docdriver/readpref"
)

// Config configures a Topology's seed list, monitoring cadence, and pool
// sizing (§4.3/§4.6).
type Config struct {
	Seeds              []address.Address
	DirectConnect      bool
	HeartbeatFrequency time.Duration
	LocalThreshold     time.Duration
	Pool               PoolConfig
	Dialer             Dialer
	SDAMEvents         *event.SDAMPublisher
	PoolEvents         *event.PoolPublisher
}

// Topology owns the live Monitors and connection Pools behind a
// description.Topology snapshot. Every heartbeat it receives is folded
// through Apply, the resulting snapshot is republished to subscribers, and
// server membership changes start or stop the corresponding Monitor/Pool —
// this is the aggregator description.SelectServer's updates channel is fed
// from (§4.4).
type Topology struct {
	cfg Config

	mu   sync.RWMutex
	desc description.Topology

	serversMu sync.Mutex
	monitors  map[address.Address]*Monitor
	pools     map[address.Address]*Pool
	unsubs    map[address.Address]func()

	subMu       sync.Mutex
	subscribers map[int64]chan description.Topology
	lastSubID   int64

	opCounts sync.Map // address.Address -> *int64

	heartbeats chan description.Server
	done       chan struct{}
}

// New builds a Topology in its initial Unknown (or Single, for a
// single-seed direct connection) state, not yet monitoring anything.
func New(cfg Config) *Topology {
	if cfg.SDAMEvents == nil {
		cfg.SDAMEvents = event.NewSDAMPublisher()
	}
	if cfg.PoolEvents == nil {
		cfg.PoolEvents = event.NewPoolPublisher()
	}
	kind := description.KindUnknown
	if cfg.DirectConnect && len(cfg.Seeds) == 1 {
		kind = description.KindSingle
	}
	return &Topology{
		cfg:         cfg,
		desc:        description.NewTopology(cfg.Seeds, kind),
		monitors:    make(map[address.Address]*Monitor),
		pools:       make(map[address.Address]*Pool),
		unsubs:      make(map[address.Address]func()),
		subscribers: make(map[int64]chan description.Topology),
		heartbeats:  make(chan description.Server, 16),
		done:        make(chan struct{}),
	}
}

// Connect starts a Monitor and Pool for every seed and begins folding
// heartbeats into the topology snapshot.
func (t *Topology) Connect(ctx context.Context) error {
	t.mu.RLock()
	seeds := make([]address.Address, 0, len(t.desc.Servers))
	for a := range t.desc.Servers {
		seeds = append(seeds, a)
	}
	t.mu.RUnlock()

	for _, a := range seeds {
		t.ensureServer(ctx, a)
	}
	go t.run()
	return nil
}

// Disconnect stops every Monitor, disconnects every Pool, and closes all
// subscriber channels.
func (t *Topology) Disconnect(ctx context.Context) error {
	close(t.done)

	t.serversMu.Lock()
	for _, m := range t.monitors {
		m.Stop()
	}
	for _, p := range t.pools {
		_ = p.Disconnect(ctx)
	}
	t.serversMu.Unlock()

	t.subMu.Lock()
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.subMu.Unlock()
	return nil
}

// Snapshot returns the current topology description.
func (t *Topology) Snapshot() description.Topology {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desc
}

// Subscribe returns a channel delivering every new snapshot, pre-populated
// with the current one, and an unsubscribe function. The channel always
// holds only the most recent snapshot: a slow reader sees a newer one
// replace a stale one rather than falling behind on a backlog.
func (t *Topology) Subscribe() (<-chan description.Topology, func()) {
	ch := make(chan description.Topology, 1)
	ch <- t.Snapshot()

	t.subMu.Lock()
	t.lastSubID++
	id := t.lastSubID
	t.subscribers[id] = ch
	t.subMu.Unlock()

	unsubscribe := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if c, ok := t.subscribers[id]; ok {
			close(c)
			delete(t.subscribers, id)
		}
	}
	return ch, unsubscribe
}

func (t *Topology) broadcast(td description.Topology) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- td
	}
}

// SelectServer runs the full server-selection retry loop (§4.5) against
// this topology's live snapshot stream and returns both the chosen server
// and the Pool an operation should check a connection out of.
func (t *Topology) SelectServer(ctx context.Context, rp *readpref.ReadPref) (description.Server, *Pool, error) {
	updates, unsubscribe := t.Subscribe()
	defer unsubscribe()

	sd, err := description.SelectServer(ctx, t.Snapshot(), rp, t.cfg.HeartbeatFrequency, t.cfg.LocalThreshold,
		t.opCount, rand.New(rand.NewSource(time.Now().UnixNano())), updates)
	if err != nil {
		return description.Server{}, nil, err
	}

	pool, ok := t.poolFor(sd.Address)
	if !ok {
		return description.Server{}, nil, fmt.Errorf("topology: no pool for selected server %s", sd.Address)
	}
	return sd, pool, nil
}

// IncrementOpCount and DecrementOpCount track in-flight operations per
// server for the pick-of-two tiebreak (§4.5 step 6).
func (t *Topology) IncrementOpCount(addr address.Address) {
	v, _ := t.opCounts.LoadOrStore(addr, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// DecrementOpCount releases a slot acquired by IncrementOpCount.
func (t *Topology) DecrementOpCount(addr address.Address) {
	if v, ok := t.opCounts.Load(addr); ok {
		atomic.AddInt64(v.(*int64), -1)
	}
}

func (t *Topology) opCount(addr address.Address) int64 {
	if v, ok := t.opCounts.Load(addr); ok {
		return atomic.LoadInt64(v.(*int64))
	}
	return 0
}

func (t *Topology) poolFor(addr address.Address) (*Pool, bool) {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	p, ok := t.pools[addr]
	return p, ok
}

func (t *Topology) run() {
	for {
		select {
		case sd := <-t.heartbeats:
			t.apply(sd)
		case <-t.done:
			return
		}
	}
}

func (t *Topology) apply(sd description.Server) {
	t.mu.Lock()
	if sd.Kind == description.Unknown && sd.TopologyVersion != nil {
		// Only a reported connection error carries the topologyVersion it
		// was selected against (a plain heartbeat failure leaves this
		// nil); compare it against what the topology has since observed
		// to decide whether this failure is stale (§4.6's pool-clear
		// suppression rule).
		if current, tracked := t.desc.Server(sd.Address); tracked &&
			current.TopologyVersion != nil && current.TopologyVersion.GreaterThan(sd.TopologyVersion) {
			t.mu.Unlock()
			return
		}
	}
	prev := t.desc
	next := Apply(t.desc, sd)
	t.desc = next
	t.mu.Unlock()

	t.cfg.SDAMEvents.Publish(event.SDAM{Kind: event.TopologyDescriptionChanged, PreviousTopology: prev, NewTopology: next})

	t.reconcileMembership(next)

	if sd.Kind == description.Unknown {
		if pool, ok := t.poolFor(sd.Address); ok {
			pool.Clear()
		}
	}

	t.broadcast(next)
}

// HandleConnectionError reports a network failure observed on a checked-out
// connection, folding it through the same Unknown transition a failed
// heartbeat produces — mark the server Unknown and clear its pool — unless
// the suppression rule in apply decides the topology already knows better.
// desc is the server description the failing operation selected against,
// so a stale error can be recognized by comparing its TopologyVersion
// against whatever the topology has observed since (§4.6's "Failure
// semantics").
func (t *Topology) HandleConnectionError(desc description.Server, err error) {
	unknown := description.NewUnknownServer(desc.Address)
	unknown.LastError = err
	unknown.TopologyVersion = desc.TopologyVersion
	select {
	case t.heartbeats <- unknown:
	case <-t.done:
	}
}

// reconcileMembership starts a Monitor+Pool for any address the FSM just
// added (a newly discovered replica set member) and tears both down for
// any address it dropped (a member removed from the set, or a standalone
// rejected from a multi-seed topology).
func (t *Topology) reconcileMembership(desc description.Topology) {
	t.serversMu.Lock()
	var toAdd, toRemove []address.Address
	for a := range desc.Servers {
		if _, ok := t.monitors[a]; !ok {
			toAdd = append(toAdd, a)
		}
	}
	for a := range t.monitors {
		if _, ok := desc.Servers[a]; !ok {
			toRemove = append(toRemove, a)
		}
	}
	t.serversMu.Unlock()

	for _, a := range toAdd {
		t.ensureServer(context.Background(), a)
	}
	for _, a := range toRemove {
		t.removeServer(a)
	}
}

func (t *Topology) ensureServer(ctx context.Context, addr address.Address) {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	if _, ok := t.monitors[addr]; ok {
		return
	}

	poolCfg := t.cfg.Pool
	if poolCfg.Dialer == nil {
		poolCfg.Dialer = t.cfg.Dialer
	}

	mon := StartMonitor(addr, MonitorConfig{HeartbeatFrequency: t.cfg.HeartbeatFrequency, Dialer: t.cfg.Dialer}, t.cfg.SDAMEvents)
	pool := NewPool(addr, poolCfg, t.cfg.PoolEvents)
	_ = pool.Connect(ctx)

	t.monitors[addr] = mon
	t.pools[addr] = pool

	ch, unsub := mon.Subscribe()
	t.unsubs[addr] = unsub

	go func() {
		for sd := range ch {
			select {
			case t.heartbeats <- sd:
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Topology) removeServer(addr address.Address) {
	t.serversMu.Lock()
	defer t.serversMu.Unlock()
	if mon, ok := t.monitors[addr]; ok {
		mon.Stop()
		delete(t.monitors, addr)
	}
	if pool, ok := t.pools[addr]; ok {
		_ = pool.Disconnect(context.Background())
		delete(t.pools, addr)
	}
	delete(t.unsubs, addr)
}
