package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetSessionReturnsLIFOOrder(t *testing.T) {
	pool := NewPool(30)

	a := pool.GetSession()
	b := pool.GetSession()
	pool.ReturnSession(a)
	pool.ReturnSession(b)

	// b was pushed last, so it must come back first.
	first := pool.GetSession()
	second := pool.GetSession()
	assert.Equal(t, b.ID, first.ID)
	assert.Equal(t, a.ID, second.ID)
}

func TestPoolGetSessionMintsFreshWhenEmpty(t *testing.T) {
	pool := NewPool(30)
	ss := pool.GetSession()
	require.NotNil(t, ss)
	assert.NotEmpty(t, ss.ID)
}

func TestPoolGetSessionSkipsExpiredTopOfStack(t *testing.T) {
	pool := NewPool(30)

	stale := pool.GetSession()
	stale.LastUse = time.Now().Add(-10 * time.Minute)
	fresh := pool.GetSession()
	pool.ReturnSession(fresh)
	pool.ReturnSession(stale)

	// A subsequent drop in the deployment's logicalSessionTimeoutMinutes
	// can leave an already-pooled entry (stale, on top of the stack)
	// expired without it ever going through ReturnSession's own check;
	// GetSession must pop past it.
	pool.SetTimeout(5)

	got := pool.GetSession()
	assert.Equal(t, fresh.ID, got.ID)
}

func TestPoolReturnSessionDiscardsExpired(t *testing.T) {
	pool := NewPool(1)

	ss := pool.GetSession()
	ss.LastUse = time.Now().Add(-time.Hour)
	pool.ReturnSession(ss)

	batches := pool.Drain()
	assert.Nil(t, batches)
}

func TestPoolDrainBatchesByEndSessionsBatchSize(t *testing.T) {
	pool := NewPool(30)
	const n = EndSessionsBatchSize + 5
	for i := 0; i < n; i++ {
		pool.ReturnSession(newServerSession())
	}

	batches := pool.Drain()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], EndSessionsBatchSize)
	assert.Len(t, batches[1], 5)

	assert.Empty(t, pool.Drain())
}
