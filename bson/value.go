package bson

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/dkvstore/docdriver/bson/bsontype"
)

// Value is a single BSON value: a type tag plus the exact on-wire bytes for
// that value's body (excluding the leading type byte and key that precede
// it inside a document). Keeping the body as raw bytes, rather than eagerly
// converting to a Go type, is what makes decode(encode(v)) byte-identical
// for any value that started life as a canonical encoding — nothing is lost
// or renormalized in between.
type Value struct {
	Type bsontype.Type
	Data []byte
}

// Double constructs a double-precision float value.
func Double(f float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	return Value{Type: bsontype.Double, Data: b}
}

// String constructs a UTF-8 string value.
func String(s string) Value {
	return Value{Type: bsontype.String, Data: appendBSONString(nil, s)}
}

// Boolean constructs a bool value.
func Boolean(v bool) Value {
	b := byte(0)
	if v {
		b = 1
	}
	return Value{Type: bsontype.Boolean, Data: []byte{b}}
}

// Int32 constructs a 32-bit integer value.
func Int32(i int32) Value {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(i))
	return Value{Type: bsontype.Int32, Data: b}
}

// Int64 constructs a 64-bit integer value.
func Int64(i int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(i))
	return Value{Type: bsontype.Int64, Data: b}
}

// DateTime constructs a UTC datetime value from milliseconds since the Unix
// epoch.
func DateTime(ms int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(ms))
	return Value{Type: bsontype.DateTime, Data: b}
}

// Null constructs the null value.
func Null() Value { return Value{Type: bsontype.Null} }

// Undefined constructs the deprecated undefined value.
func Undefined() Value { return Value{Type: bsontype.Undefined} }

// MinKeyValue constructs the MinKey sentinel value.
func MinKeyValue() Value { return Value{Type: bsontype.MinKey} }

// MaxKeyValue constructs the MaxKey sentinel value.
func MaxKeyValue() Value { return Value{Type: bsontype.MaxKey} }

// ObjectIDValue constructs a value wrapping an ObjectID.
func ObjectIDValue(id ObjectID) Value {
	b := make([]byte, 12)
	copy(b, id[:])
	return Value{Type: bsontype.ObjectID, Data: b}
}

// TimestampValue constructs an internal replication timestamp value. On the
// wire the increment precedes the seconds component.
func TimestampValue(ts Timestamp) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], ts.I)
	binary.LittleEndian.PutUint32(b[4:8], ts.T)
	return Value{Type: bsontype.Timestamp, Data: b}
}

// Decimal128Value constructs a value wrapping a Decimal128.
func Decimal128Value(d Decimal128) Value {
	b := make([]byte, 16)
	hi, lo := d.Bits()
	binary.LittleEndian.PutUint64(b[0:8], lo)
	binary.LittleEndian.PutUint64(b[8:16], hi)
	return Value{Type: bsontype.Decimal128, Data: b}
}

// RegexValue constructs a regular expression value. opts must already be
// sorted per the published canonicalization if byte-identical re-encoding
// across equivalent regexes is required; this constructor does not sort.
func RegexValue(pattern, opts string) Value {
	b := append(appendCString(nil, pattern), appendCString(nil, opts)...)
	return Value{Type: bsontype.Regex, Data: b}
}

// JavaScriptValue constructs a Code value.
func JavaScriptValue(code string) Value {
	return Value{Type: bsontype.JavaScript, Data: appendBSONString(nil, code)}
}

// SymbolValue constructs a deprecated Symbol value.
func SymbolValue(s string) Value {
	return Value{Type: bsontype.Symbol, Data: appendBSONString(nil, s)}
}

// DBPointerValue constructs a deprecated DBPointer value.
func DBPointerValue(namespace string, id ObjectID) Value {
	b := appendBSONString(nil, namespace)
	b = append(b, id[:]...)
	return Value{Type: bsontype.DBPointer, Data: b}
}

// BinaryValue constructs a binary value. Subtype 0x02 carries a legacy
// inner length prefix ahead of the payload, preserved here so a canonical
// subtype-2 value round-trips byte for byte.
func BinaryValue(subtype bsontype.BinarySubtype, payload []byte) Value {
	var body []byte
	if subtype == bsontype.BinaryOldBinary {
		inner := make([]byte, 4)
		binary.LittleEndian.PutUint32(inner, uint32(len(payload)))
		body = append(inner, payload...)
	} else {
		body = payload
	}

	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(body)))

	data := make([]byte, 0, 5+len(body))
	data = append(data, lenPrefix...)
	data = append(data, byte(subtype))
	data = append(data, body...)
	return Value{Type: bsontype.Binary, Data: data}
}

// DocumentValue wraps an already-encoded raw document (see Doc.Encode).
func DocumentValue(raw []byte) Value {
	return Value{Type: bsontype.EmbeddedDocument, Data: raw}
}

// ArrayValue wraps an already-encoded raw array (see Doc.Encode, applied to
// a document whose keys are the canonical index sequence).
func ArrayValue(raw []byte) Value {
	return Value{Type: bsontype.Array, Data: raw}
}

// CodeWithScopeValue constructs a code-with-scope value from a code string
// and an already-encoded raw scope document.
func CodeWithScopeValue(code string, scope []byte) Value {
	codeBytes := appendBSONString(nil, code)
	total := 4 + len(codeBytes) + len(scope)

	data := make([]byte, 0, total)
	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(total))
	data = append(data, lenPrefix...)
	data = append(data, codeBytes...)
	data = append(data, scope...)
	return Value{Type: bsontype.CodeWithScope, Data: data}
}

// --- accessors ---

// AsDouble returns the value as a float64. Panics if Type != Double.
func (v Value) AsDouble() float64 {
	v.mustBe(bsontype.Double)
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data))
}

// StringValue returns the value as a Go string, trimming the trailing NUL.
// Panics unless Type is String, JavaScript, or Symbol.
func (v Value) StringValue() string {
	switch v.Type {
	case bsontype.String, bsontype.JavaScript, bsontype.Symbol:
	default:
		panic(typeMismatch(v.Type, bsontype.String))
	}
	if len(v.Data) < 5 {
		return ""
	}
	return string(v.Data[4 : len(v.Data)-1])
}

// AsBoolean returns the value as a bool. Panics if Type != Boolean.
func (v Value) AsBoolean() bool {
	v.mustBe(bsontype.Boolean)
	return v.Data[0] != 0
}

// AsInt32 returns the value as an int32. Panics if Type != Int32.
func (v Value) AsInt32() int32 {
	v.mustBe(bsontype.Int32)
	return int32(binary.LittleEndian.Uint32(v.Data))
}

// AsInt64 returns the value as an int64. Panics if Type != Int64.
func (v Value) AsInt64() int64 {
	v.mustBe(bsontype.Int64)
	return int64(binary.LittleEndian.Uint64(v.Data))
}

// AsDateTimeMS returns the raw milliseconds-since-epoch for a DateTime
// value. Panics if Type != DateTime.
func (v Value) AsDateTimeMS() int64 {
	v.mustBe(bsontype.DateTime)
	return int64(binary.LittleEndian.Uint64(v.Data))
}

// AsObjectID returns the value as an ObjectID. Panics if Type != ObjectID.
func (v Value) AsObjectID() ObjectID {
	v.mustBe(bsontype.ObjectID)
	var id ObjectID
	copy(id[:], v.Data)
	return id
}

// AsTimestamp returns the value as a Timestamp. Panics if Type != Timestamp.
func (v Value) AsTimestamp() Timestamp {
	v.mustBe(bsontype.Timestamp)
	return Timestamp{
		I: binary.LittleEndian.Uint32(v.Data[0:4]),
		T: binary.LittleEndian.Uint32(v.Data[4:8]),
	}
}

// AsDecimal128 returns the value as a Decimal128. Panics if Type !=
// Decimal128.
func (v Value) AsDecimal128() Decimal128 {
	v.mustBe(bsontype.Decimal128)
	lo := binary.LittleEndian.Uint64(v.Data[0:8])
	hi := binary.LittleEndian.Uint64(v.Data[8:16])
	return NewDecimal128FromBits(hi, lo)
}

// AsDocument decodes the value as a nested document. Panics if Type !=
// EmbeddedDocument.
func (v Value) AsDocument() (Doc, error) {
	v.mustBe(bsontype.EmbeddedDocument)
	return Unmarshal(v.Data)
}

// AsArray decodes the value as an array, validating the canonical index key
// sequence. Panics if Type != Array.
func (v Value) AsArray() ([]Value, error) {
	v.mustBe(bsontype.Array)
	d, err := Unmarshal(v.Data)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(d))
	for i, elem := range d {
		if elem.Key != itoa(i) {
			return nil, newInvalidBSONError("array key %q at position %d is not canonical", elem.Key, i)
		}
		out[i] = elem.Value
	}
	return out, nil
}

// BinarySubtype returns the binary subtype. Panics if Type != Binary.
func (v Value) BinarySubtype() bsontype.BinarySubtype {
	v.mustBe(bsontype.Binary)
	return bsontype.BinarySubtype(v.Data[4])
}

// BinaryPayload returns the binary payload, unwrapping the legacy subtype
//0x02 inner length prefix. Panics if Type != Binary.
func (v Value) BinaryPayload() []byte {
	v.mustBe(bsontype.Binary)
	subtype := bsontype.BinarySubtype(v.Data[4])
	body := v.Data[5:]
	if subtype == bsontype.BinaryOldBinary && len(body) >= 4 {
		return body[4:]
	}
	return body
}

func (v Value) mustBe(t bsontype.Type) {
	if v.Type != t {
		panic(typeMismatch(v.Type, t))
	}
}

func typeMismatch(got, want bsontype.Type) string {
	return "bson: value has type " + got.String() + ", expected " + want.String()
}

func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0x00)
}

func appendBSONString(dst []byte, s string) []byte {
	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(s)+1))
	dst = append(dst, lenPrefix...)
	dst = append(dst, s...)
	return append(dst, 0x00)
}

func validUTF8(s string) bool {
	return utf8.ValidString(s)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	n := i
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}
