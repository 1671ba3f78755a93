package topology

import (
	"testing"

	"github.com/dkvstore/docdriver/address"
	"github.com/dkvstore/docdriver/description"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = address.Address("a:27017")
	addrB = address.Address("b:27017")
	addrC = address.Address("c:27017")
)

func newUnknownTopology(seeds ...address.Address) description.Topology {
	return description.NewTopology(seeds, description.KindUnknown)
}

func TestApplyUnknownSingleStandaloneBecomesSingle(t *testing.T) {
	topo := newUnknownTopology(addrA)

	sd := description.Server{Address: addrA, Kind: description.Standalone}
	next := Apply(topo, sd)

	assert.Equal(t, description.KindSingle, next.Kind)
	got, ok := next.Server(addrA)
	require.True(t, ok)
	assert.Equal(t, description.Standalone, got.Kind)
}

func TestApplyUnknownMultiSeedStandaloneDropped(t *testing.T) {
	topo := newUnknownTopology(addrA, addrB)

	sd := description.Server{Address: addrA, Kind: description.Standalone}
	next := Apply(topo, sd)

	_, ok := next.Server(addrA)
	assert.False(t, ok)
}

func TestApplyUnknownPrimaryBecomesReplicaSetWithPrimary(t *testing.T) {
	topo := newUnknownTopology(addrA, addrB)

	sd := description.Server{
		Address: addrA,
		Kind:    description.RSPrimary,
		SetName: "rs0",
		Hosts:   []address.Address{addrA, addrB},
	}
	next := Apply(topo, sd)

	assert.Equal(t, description.KindReplicaSetWithPrimary, next.Kind)
	assert.Equal(t, "rs0", next.SetName)
	primary, ok := next.Primary()
	require.True(t, ok)
	assert.Equal(t, addrA, primary.Address)
}

func TestApplyIgnoresUntrackedServer(t *testing.T) {
	topo := newUnknownTopology(addrA)

	sd := description.Server{Address: addrC, Kind: description.Standalone}
	next := Apply(topo, sd)

	assert.Equal(t, topo, next)
}

func TestApplyDropsMemberWithSetNameMismatch(t *testing.T) {
	topo := newUnknownTopology(addrA, addrB)
	topo = Apply(topo, description.Server{
		Address: addrA, Kind: description.RSPrimary, SetName: "rs0",
		Hosts: []address.Address{addrA, addrB},
	})
	require.Equal(t, description.KindReplicaSetWithPrimary, topo.Kind)

	// A member reporting a different replica set name gets dropped.
	next := Apply(topo, description.Server{Address: addrB, Kind: description.RSSecondary, SetName: "other-rs"})

	_, ok := next.Server(addrB)
	assert.False(t, ok)
	assert.Equal(t, description.KindReplicaSetWithPrimary, next.Kind)
}

func TestApplyPrimaryLosesPrimaryOnUnknown(t *testing.T) {
	topo := newUnknownTopology(addrA, addrB)
	topo = Apply(topo, description.Server{
		Address: addrA, Kind: description.RSPrimary, SetName: "rs0",
		Hosts: []address.Address{addrA, addrB},
	})
	require.Equal(t, description.KindReplicaSetWithPrimary, topo.Kind)

	next := Apply(topo, description.Server{Address: addrA, Kind: description.Unknown, LastError: assertErr{}})

	assert.Equal(t, description.KindReplicaSetNoPrimary, next.Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "heartbeat failed" }
