package client

import (
	"testing"
	"time"

	"github.com/dkvstore/docdriver/connstring"
	"github.com/dkvstore/docdriver/readpref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()

	assert.Equal(t, defaultHeartbeatFrequency, o.heartbeatFrequency)
	assert.Equal(t, defaultLocalThreshold, o.localThreshold)
	assert.Equal(t, readpref.PrimaryMode, o.readPref.Mode())
	assert.True(t, o.retryWrites)
	assert.True(t, o.retryReads)
}

func TestOptionsOverrideConnString(t *testing.T) {
	o := defaultOptions()
	cs := &connstring.ConnString{
		AppName:               "from-uri",
		HeartbeatIntervalSet:  true,
		HeartbeatInterval:     5 * time.Second,
		MaxPoolSizeSet:        true,
		MaxPoolSize:           20,
		RetryWritesSet:        true,
		RetryWrites:           false,
	}
	applyConnString(o, cs)

	assert.Equal(t, "from-uri", o.appName)
	assert.Equal(t, 5*time.Second, o.heartbeatFrequency)
	assert.EqualValues(t, 20, o.maxPoolSize)
	assert.False(t, o.retryWrites)

	// An Option applied afterward wins over whatever the connection string set.
	WithAppName("from-option")(o)
	WithRetryWrites(true)(o)
	assert.Equal(t, "from-option", o.appName)
	assert.True(t, o.retryWrites)
}

func TestResolveReadPreferenceFromConnString(t *testing.T) {
	o := defaultOptions()
	cs := &connstring.ConnString{
		ReadPreference:        "secondaryPreferred",
		ReadPreferenceTagSets: []map[string]string{{"dc": "east"}},
	}

	rp, err := resolveReadPreference(cs, o)
	require.NoError(t, err)
	assert.Equal(t, readpref.SecondaryPreferredMode, rp.Mode())
	require.Len(t, rp.TagSets(), 1)
	assert.True(t, rp.TagSets()[0].Contains("dc", "east"))
}

func TestResolveReadPreferenceDefaultsWhenUnset(t *testing.T) {
	o := defaultOptions()
	rp, err := resolveReadPreference(&connstring.ConnString{}, o)
	require.NoError(t, err)
	assert.Equal(t, o.readPref, rp)
}

func TestResolveReadPreferenceRejectsUnknownMode(t *testing.T) {
	o := defaultOptions()
	_, err := resolveReadPreference(&connstring.ConnString{ReadPreference: "bogus"}, o)
	assert.Error(t, err)
}
