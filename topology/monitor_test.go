package topology

import (
	"testing"
	"time"

	"github.com/dkvstore/docdriver/description"
	"github.com/dkvstore/docdriver/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAverageRTTFirstSampleSetsDirectly(t *testing.T) {
	m := &Monitor{}
	m.updateAverageRTT(100 * time.Millisecond)

	rtt, ok := m.getAverageRTT()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, rtt)
}

func TestUpdateAverageRTTAppliesEWMA(t *testing.T) {
	m := &Monitor{}
	m.updateAverageRTT(100 * time.Millisecond)
	m.updateAverageRTT(200 * time.Millisecond)

	// alpha=0.2: 0.2*200ms + 0.8*100ms = 120ms.
	rtt, ok := m.getAverageRTT()
	require.True(t, ok)
	assert.Equal(t, 120*time.Millisecond, rtt)
}

func TestGetAverageRTTFalseBeforeAnySample(t *testing.T) {
	m := &Monitor{}
	_, ok := m.getAverageRTT()
	assert.False(t, ok)
}

func TestMonitorPublishesSuccessfulHeartbeat(t *testing.T) {
	mon := StartMonitor(addrA, MonitorConfig{Dialer: fakeHelloDialer(minimalHelloReply())}, event.NewSDAMPublisher())
	defer mon.Stop()

	ch, unsub := mon.Subscribe()
	defer unsub()

	// The pre-populated first value is always Unknown; wait for the
	// heartbeat that replaces it.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sd := <-ch:
			if sd.Kind != description.Unknown {
				assert.EqualValues(t, 6, sd.MinWireVersion)
				assert.EqualValues(t, 21, sd.MaxWireVersion)
				return
			}
		case <-deadline:
			t.Fatal("monitor never published a successful heartbeat")
		}
	}
}

func TestMonitorPublishesUnknownOnDialFailure(t *testing.T) {
	mon := StartMonitor(addrA, MonitorConfig{Dialer: failingDialer(assertErr{})}, event.NewSDAMPublisher())
	defer mon.Stop()

	ch, unsub := mon.Subscribe()
	defer unsub()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sd := <-ch:
			if sd.LastError != nil {
				assert.Equal(t, description.Unknown, sd.Kind)
				return
			}
		case <-deadline:
			t.Fatal("monitor never published a failed heartbeat")
		}
	}
}
