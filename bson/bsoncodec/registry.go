// Package bsoncodec implements the schema-driven coder layer described in
// spec §4.1: a registry of per-Go-type encoders/decoders that sit above the
// raw bson package and apply the configured date/UUID/bytes/number
// strategies. The registry never changes what is on the wire for a given
// strategy — it only changes how a Go value is projected onto the BSON
// value model and back.
package bsoncodec

import (
	"fmt"
	"reflect"

	"github.com/dkvstore/docdriver/bson"
)

// ValueEncoder converts a Go value into a bson.Value.
type ValueEncoder interface {
	EncodeValue(reflect.Value) (bson.Value, error)
}

// ValueDecoder converts a bson.Value into a Go value of the decoder's type.
type ValueDecoder interface {
	DecodeValue(bson.Value) (reflect.Value, error)
}

// ValueEncoderFunc adapts a function to a ValueEncoder.
type ValueEncoderFunc func(reflect.Value) (bson.Value, error)

// EncodeValue implements ValueEncoder.
func (f ValueEncoderFunc) EncodeValue(v reflect.Value) (bson.Value, error) { return f(v) }

// ValueDecoderFunc adapts a function to a ValueDecoder.
type ValueDecoderFunc func(bson.Value) (reflect.Value, error)

// DecodeValue implements ValueDecoder.
func (f ValueDecoderFunc) DecodeValue(v bson.Value) (reflect.Value, error) { return f(v) }

// Registry holds the encoder/decoder table, keyed by reflect.Type. It is
// built once via RegistryBuilder and then used concurrently for the
// lifetime of a Client, so after Build() it is read-only.
type Registry struct {
	encoders map[reflect.Type]ValueEncoder
	decoders map[reflect.Type]ValueDecoder
}

// LookupEncoder returns the encoder registered for t, if any.
func (r *Registry) LookupEncoder(t reflect.Type) (ValueEncoder, bool) {
	enc, ok := r.encoders[t]
	return enc, ok
}

// LookupDecoder returns the decoder registered for t, if any.
func (r *Registry) LookupDecoder(t reflect.Type) (ValueDecoder, bool) {
	dec, ok := r.decoders[t]
	return dec, ok
}

// Encode looks up and runs the encoder for v's dynamic type.
func (r *Registry) Encode(v interface{}) (bson.Value, error) {
	rv := reflect.ValueOf(v)
	enc, ok := r.LookupEncoder(rv.Type())
	if !ok {
		return bson.Value{}, fmt.Errorf("bsoncodec: no encoder registered for type %s", rv.Type())
	}
	return enc.EncodeValue(rv)
}

// Decode looks up and runs the decoder for t, applying it to val.
func (r *Registry) Decode(t reflect.Type, val bson.Value) (reflect.Value, error) {
	dec, ok := r.LookupDecoder(t)
	if !ok {
		return reflect.Value{}, fmt.Errorf("bsoncodec: no decoder registered for type %s", t)
	}
	return dec.DecodeValue(val)
}

// RegistryBuilder assembles a Registry. Strategies are added as plain
// registrations — there is no subclassing, matching spec §4.1's
// "configuration, not subclassing" guidance.
type RegistryBuilder struct {
	encoders map[reflect.Type]ValueEncoder
	decoders map[reflect.Type]ValueDecoder
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		encoders: make(map[reflect.Type]ValueEncoder),
		decoders: make(map[reflect.Type]ValueDecoder),
	}
}

// RegisterTypeEncoder registers enc for exactly the type t.
func (b *RegistryBuilder) RegisterTypeEncoder(t reflect.Type, enc ValueEncoder) *RegistryBuilder {
	b.encoders[t] = enc
	return b
}

// RegisterTypeDecoder registers dec for exactly the type t.
func (b *RegistryBuilder) RegisterTypeDecoder(t reflect.Type, dec ValueDecoder) *RegistryBuilder {
	b.decoders[t] = dec
	return b
}

// Build freezes the builder into a Registry.
func (b *RegistryBuilder) Build() *Registry {
	r := &Registry{
		encoders: make(map[reflect.Type]ValueEncoder, len(b.encoders)),
		decoders: make(map[reflect.Type]ValueDecoder, len(b.decoders)),
	}
	for t, e := range b.encoders {
		r.encoders[t] = e
	}
	for t, d := range b.decoders {
		r.decoders[t] = d
	}
	return r
}
