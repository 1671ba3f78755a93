// Package bsonoptions declares the strategy configuration for the
// bsoncodec coder layer: how application types map onto the BSON value
// model described in spec §4.1. Changing a strategy never alters on-disk
// data — it only changes how values move between the BSON layer and
// application types.
package bsonoptions

// DateStrategy selects how a time.Time is represented on the wire.
type DateStrategy int

// Date strategy constants.
const (
	// DateAsWireDateTime encodes as the native BSON DateTime type
	// (milliseconds since the epoch). This is the default.
	DateAsWireDateTime DateStrategy = iota
	DateAsMillisecondsInt64
	DateAsSecondsInt64
	DateAsMillisecondsFloat64
	DateAsSecondsFloat64
	DateAsISO8601String
)

// UUIDStrategy selects how a uuid.UUID is represented on the wire.
type UUIDStrategy int

// UUID strategy constants.
const (
	// UUIDAsBinarySubtype4 is the current standard representation.
	UUIDAsBinarySubtype4 UUIDStrategy = iota
	// UUIDAsBinarySubtype3 is the legacy (pre-4.0 driver) representation.
	UUIDAsBinarySubtype3
	UUIDAsString
)

// BytesStrategy selects how a []byte is represented on the wire.
type BytesStrategy int

// Bytes strategy constants.
const (
	BytesAsBinarySubtype0 BytesStrategy = iota
	BytesAsBase64String
	BytesDeferred
)

// NumberMode selects how numeric narrowing is handled during decode.
type NumberMode int

// Number mode constants.
const (
	// NumberLosslessOnly rejects a narrowing conversion (e.g. double→int32)
	// that would lose value, returning a decode error instead of silently
	// truncating.
	NumberLosslessOnly NumberMode = iota
)

// CoderOptions aggregates every configurable strategy consulted by the
// bsoncodec registry's built-in encoders/decoders.
type CoderOptions struct {
	Date    DateStrategy
	UUID    UUIDStrategy
	Bytes   BytesStrategy
	Numbers NumberMode
}

// DefaultCoderOptions returns the strategy set the registry uses when the
// caller supplies none.
func DefaultCoderOptions() *CoderOptions {
	return &CoderOptions{
		Date:    DateAsWireDateTime,
		UUID:    UUIDAsBinarySubtype4,
		Bytes:   BytesAsBinarySubtype0,
		Numbers: NumberLosslessOnly,
	}
}
