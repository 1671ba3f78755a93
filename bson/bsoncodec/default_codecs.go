package bsoncodec

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/dkvstore/docdriver/bson"
	"github.com/dkvstore/docdriver/bson/bsonoptions"
	"github.com/dkvstore/docdriver/bson/bsontype"
	"github.com/google/uuid"
)

func base64Encode(b []byte) string          { return base64.StdEncoding.EncodeToString(b) }
func base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

var (
	tTime = reflect.TypeOf(time.Time{})
	tUUID = reflect.TypeOf(uuid.UUID{})
	tBytes = reflect.TypeOf([]byte(nil))
)

// BuildDefaultRegistry constructs the Registry the client uses when the
// caller does not supply custom strategies, wiring up date/UUID/bytes/
// number coders per opts.
func BuildDefaultRegistry(opts *bsonoptions.CoderOptions) *Registry {
	if opts == nil {
		opts = bsonoptions.DefaultCoderOptions()
	}

	b := NewRegistryBuilder()
	registerTimeCodec(b, opts.Date)
	registerUUIDCodec(b, opts.UUID)
	registerBytesCodec(b, opts.Bytes)
	registerNumberCodecs(b, opts.Numbers)
	return b.Build()
}

func registerTimeCodec(b *RegistryBuilder, strategy bsonoptions.DateStrategy) {
	enc := ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		t := rv.Interface().(time.Time)
		switch strategy {
		case bsonoptions.DateAsMillisecondsInt64:
			return bson.Int64(t.UnixMilli()), nil
		case bsonoptions.DateAsSecondsInt64:
			return bson.Int64(t.Unix()), nil
		case bsonoptions.DateAsMillisecondsFloat64:
			return bson.Double(float64(t.UnixMilli())), nil
		case bsonoptions.DateAsSecondsFloat64:
			return bson.Double(float64(t.Unix())), nil
		case bsonoptions.DateAsISO8601String:
			return bson.String(t.UTC().Format(time.RFC3339Nano)), nil
		default:
			return bson.DateTime(t.UnixMilli()), nil
		}
	})

	dec := ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		var t time.Time
		switch v.Type {
		case bsontype.DateTime:
			t = time.UnixMilli(v.AsDateTimeMS()).UTC()
		case bsontype.Int64:
			t = time.UnixMilli(v.AsInt64()).UTC()
		case bsontype.Double:
			t = time.UnixMilli(int64(v.AsDouble())).UTC()
		case bsontype.String:
			parsed, err := time.Parse(time.RFC3339Nano, v.StringValue())
			if err != nil {
				return reflect.Value{}, err
			}
			t = parsed.UTC()
		default:
			return reflect.Value{}, fmt.Errorf("bsoncodec: cannot decode %s into time.Time", v.Type)
		}
		return reflect.ValueOf(t), nil
	})

	b.RegisterTypeEncoder(tTime, enc)
	b.RegisterTypeDecoder(tTime, dec)
}

func registerUUIDCodec(b *RegistryBuilder, strategy bsonoptions.UUIDStrategy) {
	enc := ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		u := rv.Interface().(uuid.UUID)
		switch strategy {
		case bsonoptions.UUIDAsBinarySubtype3:
			return bson.BinaryValue(bsontype.BinaryOldUUID, u[:]), nil
		case bsonoptions.UUIDAsString:
			return bson.String(u.String()), nil
		default:
			return bson.BinaryValue(bsontype.BinaryUUID, u[:]), nil
		}
	})

	dec := ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		switch v.Type {
		case bsontype.Binary:
			switch v.BinarySubtype() {
			case bsontype.BinaryUUID, bsontype.BinaryOldUUID:
				var u uuid.UUID
				copy(u[:], v.BinaryPayload())
				return reflect.ValueOf(u), nil
			default:
				return reflect.Value{}, fmt.Errorf("bsoncodec: binary subtype 0x%x is not a UUID", v.BinarySubtype())
			}
		case bsontype.String:
			u, err := uuid.Parse(v.StringValue())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(u), nil
		default:
			return reflect.Value{}, fmt.Errorf("bsoncodec: cannot decode %s into uuid.UUID", v.Type)
		}
	})

	b.RegisterTypeEncoder(tUUID, enc)
	b.RegisterTypeDecoder(tUUID, dec)
}

func registerBytesCodec(b *RegistryBuilder, strategy bsonoptions.BytesStrategy) {
	enc := ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		bs := rv.Interface().([]byte)
		switch strategy {
		case bsonoptions.BytesAsBase64String:
			return bson.String(base64Encode(bs)), nil
		default:
			return bson.BinaryValue(bsontype.BinaryGeneric, bs), nil
		}
	})

	dec := ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		switch v.Type {
		case bsontype.Binary:
			return reflect.ValueOf(append([]byte(nil), v.BinaryPayload()...)), nil
		case bsontype.String:
			bs, err := base64Decode(v.StringValue())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(bs), nil
		default:
			return reflect.Value{}, fmt.Errorf("bsoncodec: cannot decode %s into []byte", v.Type)
		}
	})

	b.RegisterTypeEncoder(tBytes, enc)
	b.RegisterTypeDecoder(tBytes, dec)
}

// registerNumberCodecs wires int32/int64/float64 coders that, under
// NumberLosslessOnly, refuse a narrowing conversion that would change the
// value (e.g. decoding 3.5 into an int32, or a float64 too large for
// int32 into int32).
func registerNumberCodecs(b *RegistryBuilder, mode bsonoptions.NumberMode) {
	registerInt32Codec(b)
	registerInt64Codec(b)
	registerFloat64Codec(b)
}

func registerInt32Codec(b *RegistryBuilder) {
	t := reflect.TypeOf(int32(0))
	b.RegisterTypeEncoder(t, ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		return bson.Int32(int32(rv.Int())), nil
	}))
	b.RegisterTypeDecoder(t, ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		i32, err := losslessInt32(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i32), nil
	}))
}

func registerInt64Codec(b *RegistryBuilder) {
	t := reflect.TypeOf(int64(0))
	b.RegisterTypeEncoder(t, ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		return bson.Int64(rv.Int()), nil
	}))
	b.RegisterTypeDecoder(t, ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		i64, err := losslessInt64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(i64), nil
	}))
}

func registerFloat64Codec(b *RegistryBuilder) {
	t := reflect.TypeOf(float64(0))
	b.RegisterTypeEncoder(t, ValueEncoderFunc(func(rv reflect.Value) (bson.Value, error) {
		return bson.Double(rv.Float()), nil
	}))
	b.RegisterTypeDecoder(t, ValueDecoderFunc(func(v bson.Value) (reflect.Value, error) {
		switch v.Type {
		case bsontype.Double:
			return reflect.ValueOf(v.AsDouble()), nil
		case bsontype.Int32:
			return reflect.ValueOf(float64(v.AsInt32())), nil
		case bsontype.Int64:
			i := v.AsInt64()
			f := float64(i)
			if int64(f) != i {
				return reflect.Value{}, fmt.Errorf("bsoncodec: int64 %d has no lossless float64 representation", i)
			}
			return reflect.ValueOf(f), nil
		default:
			return reflect.Value{}, fmt.Errorf("bsoncodec: cannot decode %s into float64", v.Type)
		}
	}))
}

func losslessInt32(v bson.Value) (int32, error) {
	switch v.Type {
	case bsontype.Int32:
		return v.AsInt32(), nil
	case bsontype.Int64:
		i := v.AsInt64()
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, fmt.Errorf("bsoncodec: int64 %d overflows int32", i)
		}
		return int32(i), nil
	case bsontype.Double:
		f := v.AsDouble()
		i := int32(f)
		if float64(i) != f {
			return 0, fmt.Errorf("bsoncodec: double %v has no lossless int32 representation", f)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("bsoncodec: cannot decode %s into int32", v.Type)
	}
}

func losslessInt64(v bson.Value) (int64, error) {
	switch v.Type {
	case bsontype.Int32:
		return int64(v.AsInt32()), nil
	case bsontype.Int64:
		return v.AsInt64(), nil
	case bsontype.Double:
		f := v.AsDouble()
		i := int64(f)
		if float64(i) != f {
			return 0, fmt.Errorf("bsoncodec: double %v has no lossless int64 representation", f)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("bsoncodec: cannot decode %s into int64", v.Type)
	}
}
