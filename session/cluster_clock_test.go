package session

import (
	"testing"

	"github.com/dkvstore/docdriver/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctAt(t uint32) ClusterTime {
	return ClusterTime(bson.Doc{bson.E("clusterTime", bson.TimestampValue(bson.Timestamp{T: t}))})
}

func TestMaxClusterTimeNilOperandLoses(t *testing.T) {
	ct := ctAt(5)
	assert.Equal(t, ct, MaxClusterTime(nil, ct))
	assert.Equal(t, ct, MaxClusterTime(ct, nil))
	assert.Nil(t, MaxClusterTime(nil, nil))
}

func TestMaxClusterTimePicksLaterTimestamp(t *testing.T) {
	older, newer := ctAt(5), ctAt(10)
	assert.Equal(t, newer, MaxClusterTime(older, newer))
	assert.Equal(t, newer, MaxClusterTime(newer, older))
}

func TestClusterClockSeenGatesOnFirstAdvance(t *testing.T) {
	clock := &ClusterClock{}
	assert.False(t, clock.Seen())

	clock.AdvanceClusterTime(ctAt(1))
	assert.True(t, clock.Seen())
}

func TestClusterClockAdvanceClusterTimeMonotonic(t *testing.T) {
	clock := &ClusterClock{}
	clock.AdvanceClusterTime(ctAt(10))
	clock.AdvanceClusterTime(ctAt(3))

	got, ok := bson.Doc(clock.GetClusterTime()).Lookup("clusterTime")
	require.True(t, ok)
	assert.EqualValues(t, 10, got.AsTimestamp().T)
}
