package bson

import (
	"testing"

	"github.com/dkvstore/docdriver/bson/bsontype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := Doc{
		E("x", Int32(42)),
		E("a", NewArray(String("s"), Boolean(true), Null())),
	}

	b, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, 0x24, len(b))

	decoded, err := Unmarshal(b)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, "x", decoded[0].Key)
	assert.EqualValues(t, 42, decoded[0].Value.AsInt32())

	arr, err := decoded[1].Value.AsArray()
	require.NoError(t, err)
	require.Len(t, arr, 3)
	assert.Equal(t, "s", arr[0].StringValue())
	assert.True(t, arr[1].AsBoolean())
	assert.Equal(t, bsontype.Null, arr[2].Type)

	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, b, reencoded)
}

func TestDecodeRejectsCorruptTerminator(t *testing.T) {
	doc := Doc{E("x", Int32(42))}
	b, err := doc.Encode()
	require.NoError(t, err)

	corrupt := append([]byte{}, b...)
	corrupt[len(corrupt)-1] = 0x01

	_, err = Unmarshal(corrupt)
	require.Error(t, err)
	assert.True(t, IsInvalidBSON(err))
}

func TestDecodeRejectsNonCanonicalArrayKeys(t *testing.T) {
	// hand-build a document whose "array" has keys "0","2" instead of "0","1"
	inner := Doc{E("0", String("a")), E("2", String("b"))}
	raw, err := inner.Encode()
	require.NoError(t, err)

	outer := Doc{E("arr", ArrayValue(raw))}
	outerRaw, err := outer.Encode()
	require.NoError(t, err)

	_, err = Unmarshal(outerRaw)
	require.Error(t, err)
	assert.True(t, IsInvalidBSON(err))

	// AsArray applies the same check to a raw array value on its own.
	_, err = ArrayValue(raw).AsArray()
	require.Error(t, err)
}

func TestLookupReturnsFirstOccurrence(t *testing.T) {
	doc := Doc{E("k", String("first")), E("k", String("second"))}
	v, ok := doc.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "first", v.StringValue())
}
