package session

import (
	"testing"

	"github.com/dkvstore/docdriver/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAfterClusterTimeRequiresCausalConsistencyAndOperationTime(t *testing.T) {
	pool := NewPool(30)

	c := NewClient(pool, 1, Explicit, false)
	c.AdvanceOperationTime(bson.Timestamp{T: 100, I: 1})
	_, ok := c.AfterClusterTime()
	assert.False(t, ok, "causal consistency disabled, afterClusterTime must not be injected")

	c = NewClient(pool, 1, Explicit, true)
	_, ok = c.AfterClusterTime()
	assert.False(t, ok, "no operation time observed yet, afterClusterTime must not be injected")

	c.AdvanceOperationTime(bson.Timestamp{T: 100, I: 1})
	ts, ok := c.AfterClusterTime()
	require.True(t, ok)
	assert.Equal(t, bson.Timestamp{T: 100, I: 1}, ts)
}

func TestClientAdvanceOperationTimeOnlyMovesForward(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, true)

	c.AdvanceOperationTime(bson.Timestamp{T: 100, I: 5})
	c.AdvanceOperationTime(bson.Timestamp{T: 50, I: 9})

	ts, ok := c.AfterClusterTime()
	require.True(t, ok)
	assert.Equal(t, bson.Timestamp{T: 100, I: 5}, ts, "an older operationTime must not regress the session's clock")
}

func TestClientNextTxnNumberIncrementsPerSession(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, false)

	assert.EqualValues(t, 1, c.NextTxnNumber())
	assert.EqualValues(t, 2, c.NextTxnNumber())
	assert.EqualValues(t, 3, c.NextTxnNumber())
}

func TestClientNextTxnNumberSurvivesPoolReuse(t *testing.T) {
	pool := NewPool(30)

	first := NewClient(pool, 1, Explicit, false)
	first.NextTxnNumber()
	first.NextTxnNumber()
	first.EndSession()

	// Popping the pool again after EndSession hands back the same server
	// session, and its txnNumber must carry on from where it left off,
	// not reset to zero — the retryable-write reuse scenario.
	second := NewClient(pool, 2, Explicit, false)
	assert.EqualValues(t, 3, second.NextTxnNumber())
}

func TestClientBeginRejectsConcurrentUse(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, false)

	require.NoError(t, c.Begin())
	assert.Error(t, c.Begin())

	c.End()
	assert.NoError(t, c.Begin())
}

func TestClientValidateRejectsOtherClientInstance(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, false)

	assert.NoError(t, c.Validate(1))
	assert.Error(t, c.Validate(2))

	c.EndSession()
	assert.Error(t, c.Validate(1))
}

func TestClientEndSessionIsIdempotent(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, false)

	require.True(t, c.Active())
	c.EndSession()
	assert.False(t, c.Active())
	c.EndSession() // must not panic or double-return to the pool
}

func TestClientAdvanceClusterTimeTracksLatest(t *testing.T) {
	pool := NewPool(30)
	c := NewClient(pool, 1, Explicit, false)

	older := ClusterTime(bson.Doc{bson.E("clusterTime", bson.TimestampValue(bson.Timestamp{T: 10, I: 0}))})
	newer := ClusterTime(bson.Doc{bson.E("clusterTime", bson.TimestampValue(bson.Timestamp{T: 20, I: 0}))})

	c.AdvanceClusterTime(newer)
	c.AdvanceClusterTime(older)

	got, ok := bson.Doc(c.ClusterTime).Lookup("clusterTime")
	require.True(t, ok)
	assert.Equal(t, bson.Timestamp{T: 20, I: 0}, got.AsTimestamp())
}
