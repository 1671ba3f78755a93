package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerSessionExpiredBelowOneMinuteRemaining(t *testing.T) {
	ss := newServerSession()

	ss.LastUse = time.Now().Add(-29 * time.Minute)
	assert.False(t, ss.expired(30), "29 minutes idle against a 30 minute timeout leaves over a minute")

	ss.LastUse = time.Now().Add(-30 * time.Minute)
	assert.True(t, ss.expired(30), "idle time at the timeout itself leaves under a minute of headroom")
}

func TestServerSessionExpiredNeverWithZeroTimeout(t *testing.T) {
	ss := newServerSession()
	ss.LastUse = time.Now().Add(-24 * time.Hour)
	assert.False(t, ss.expired(0))
}

func TestServerSessionUpdateUseTimeBumpsLastUse(t *testing.T) {
	ss := newServerSession()
	ss.LastUse = time.Now().Add(-time.Hour)

	ss.updateUseTime()

	assert.WithinDuration(t, time.Now(), ss.LastUse, time.Second)
}

func TestServerSessionNextTxnNumberIncrements(t *testing.T) {
	ss := newServerSession()
	assert.EqualValues(t, 1, ss.NextTxnNumber())
	assert.EqualValues(t, 2, ss.NextTxnNumber())
}
