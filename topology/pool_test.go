package topology

import (
	"context"
	"testing"
	"time"

	"github.com/dkvstore/docdriver/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	if cfg.Dialer == nil {
		cfg.Dialer = fakeHelloDialer(minimalHelloReply())
	}
	pool := NewPool(addrA, cfg, event.NewPoolPublisher())
	require.NoError(t, pool.Connect(context.Background()))
	return pool
}

func TestPoolCheckoutDialsWhenIdleEmpty(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})

	conn, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, addrA, conn.Address)
}

func TestPoolCheckinReusesIdleConnection(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})

	c1, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	pool.Checkin(c1, false)

	assert.Equal(t, 1, pool.idleCount())

	c2, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 0, pool.idleCount())
}

func TestPoolCheckinClosesBadConnection(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})

	c, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	pool.Checkin(c, true)

	assert.Equal(t, 0, pool.idleCount())
}

func TestPoolClearBumpsGenerationAndDropsIdle(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})

	c1, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	pool.Checkin(c1, false)
	require.Equal(t, 1, pool.idleCount())

	genBefore := pool.generation
	pool.Clear()
	assert.Greater(t, pool.generation, genBefore)
	assert.Equal(t, 0, pool.idleCount())
}

func TestPoolCheckinDropsConnectionFromPriorGeneration(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})

	c, err := pool.Checkout(context.Background())
	require.NoError(t, err)

	pool.Clear() // bumps generation while c is checked out

	pool.Checkin(c, false)
	assert.Equal(t, 0, pool.idleCount(), "a connection stamped with a stale generation must not be pooled")
}

func TestPoolCheckoutAfterDisconnectFails(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 2})
	require.NoError(t, pool.Disconnect(context.Background()))

	_, err := pool.Checkout(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCheckoutSurfacesDialError(t *testing.T) {
	dialErr := assertErr{}
	pool := newTestPool(t, PoolConfig{MaxSize: 1, Dialer: failingDialer(dialErr)})

	_, err := pool.Checkout(context.Background())
	assert.Error(t, err)
}

func TestPoolCheckoutBlocksAtMaxSizeUntilTimeout(t *testing.T) {
	pool := newTestPool(t, PoolConfig{MaxSize: 1})

	held, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	defer pool.Checkin(held, false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pool.Checkout(ctx)
	assert.Error(t, err, "checkout must block and time out once maxPoolSize is exhausted")
}
