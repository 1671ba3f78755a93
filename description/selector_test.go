package description

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/readpref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = address.Address("a:27017")
	addrB = address.Address("b:27017")
	addrC = address.Address("c:27017")
)

func TestPickOfTwoSingleCandidateReturnsOutright(t *testing.T) {
	candidates := []Server{{Address: addrA}}
	got := PickOfTwo(candidates, func(address.Address) int64 { return 0 }, rand.New(rand.NewSource(1)))
	assert.Equal(t, addrA, got.Address)
}

func TestPickOfTwoFavorsLowerOpCount(t *testing.T) {
	candidates := []Server{{Address: addrA}, {Address: addrB}}
	counts := map[address.Address]int64{addrA: 5, addrB: 1}
	opCount := func(a address.Address) int64 { return counts[a] }

	// A fixed source can sample (i=0,j=1) or (i=1,j=0); either way the
	// lower-opCount server must win.
	for seed := int64(0); seed < 20; seed++ {
		got := PickOfTwo(candidates, opCount, rand.New(rand.NewSource(seed)))
		assert.Equal(t, addrB, got.Address)
	}
}

func TestPickOfTwoTieGoesToFirstSample(t *testing.T) {
	candidates := []Server{{Address: addrA}, {Address: addrB}}
	opCount := func(address.Address) int64 { return 0 }

	// fixedSource drives the first draw to index 0 and the second to index
	// 1, so with equal opCounts the tiebreak must resolve to whichever
	// candidate the first sample picked: addrA.
	got := PickOfTwo(candidates, opCount, rand.New(&fixedSource{values: []int64{0, 1 << 32}}))
	assert.Equal(t, addrA, got.Address)
}

// fixedSource is a rand.Source that replays a fixed sequence of values,
// used to pin PickOfTwo's sampling for the tie-goes-to-first-sample
// assertion above.
type fixedSource struct {
	values []int64
	pos    int
}

func (s *fixedSource) Int63() int64 {
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}

func (s *fixedSource) Seed(int64) {}

func TestApplyMaxStalenessFilterWithPrimary(t *testing.T) {
	now := time.Now()
	primary := Server{
		Address: addrA, Kind: RSPrimary,
		LastUpdateTime: now, LastWriteDate: now, HasLastWriteDate: true,
	}
	fresh := Server{
		Address: addrB, Kind: RSSecondary,
		LastUpdateTime: now, LastWriteDate: now, HasLastWriteDate: true,
	}
	stale := Server{
		Address: addrC, Kind: RSSecondary,
		LastUpdateTime: now, LastWriteDate: now.Add(-10 * time.Minute), HasLastWriteDate: true,
	}
	topo := Topology{Kind: KindReplicaSetWithPrimary, Servers: map[address.Address]Server{
		addrA: primary, addrB: fresh, addrC: stale,
	}}

	rp, err := readpref.New(readpref.SecondaryMode, readpref.WithMaxStaleness(90*time.Second, 10*time.Second))
	require.NoError(t, err)

	out := applyMaxStalenessFilter(topo, []Server{fresh, stale}, rp, 10*time.Second)

	var addrs []address.Address
	for _, s := range out {
		addrs = append(addrs, s.Address)
	}
	assert.Contains(t, addrs, addrB)
	assert.NotContains(t, addrs, addrC)
}

func TestApplyMaxStalenessFilterWithoutPrimary(t *testing.T) {
	now := time.Now()
	fresh := Server{
		Address: addrB, Kind: RSSecondary,
		LastUpdateTime: now, LastWriteDate: now, HasLastWriteDate: true,
	}
	stale := Server{
		Address: addrC, Kind: RSSecondary,
		LastUpdateTime: now, LastWriteDate: now.Add(-10 * time.Minute), HasLastWriteDate: true,
	}
	topo := Topology{Kind: KindReplicaSetNoPrimary, Servers: map[address.Address]Server{
		addrB: fresh, addrC: stale,
	}}

	rp, err := readpref.New(readpref.SecondaryMode, readpref.WithMaxStaleness(90*time.Second, 10*time.Second))
	require.NoError(t, err)

	out := applyMaxStalenessFilter(topo, []Server{fresh, stale}, rp, 10*time.Second)

	var addrs []address.Address
	for _, s := range out {
		addrs = append(addrs, s.Address)
	}
	assert.Contains(t, addrs, addrB)
	assert.NotContains(t, addrs, addrC)
}

func TestApplyMaxStalenessFilterInactiveWithoutMaxStaleness(t *testing.T) {
	rp, err := readpref.New(readpref.SecondaryMode)
	require.NoError(t, err)

	candidates := []Server{{Address: addrA}, {Address: addrB}}
	out := applyMaxStalenessFilter(Topology{}, candidates, rp, time.Second)
	assert.Equal(t, candidates, out)
}

func TestSuitableSetPrimaryModeRequiresPrimary(t *testing.T) {
	topo := Topology{Kind: KindReplicaSetNoPrimary, Servers: map[address.Address]Server{
		addrA: {Address: addrA, Kind: RSSecondary},
	}}
	rp, err := readpref.New(readpref.PrimaryMode)
	require.NoError(t, err)

	out := suitableSet(topo, rp)
	assert.Empty(t, out)
}

func TestSuitableSetNearestIncludesPrimaryAndSecondaries(t *testing.T) {
	topo := Topology{Kind: KindReplicaSetWithPrimary, Servers: map[address.Address]Server{
		addrA: {Address: addrA, Kind: RSPrimary},
		addrB: {Address: addrB, Kind: RSSecondary},
	}}
	rp, err := readpref.New(readpref.NearestMode)
	require.NoError(t, err)

	out := suitableSet(topo, rp)
	assert.Len(t, out, 2)
}
