package bson

import (
	"encoding/binary"

	"github.com/dkvstore/docdriver/bson/bsontype"
)

// Elem is a single (key, value) pair within a Doc.
type Elem struct {
	Key   string
	Value Value
}

// E is shorthand for constructing an Elem inline, matching the driver
// convention of building commands as a literal Doc{E{...}, E{...}}.
func E(key string, v Value) Elem { return Elem{Key: key, Value: v} }

// Doc is an ordered sequence of elements — the in-memory form of a BSON
// document. Key order is preserved exactly as constructed or decoded;
// duplicate keys are permitted (the wire format allows them) but Lookup
// always returns the first occurrence.
type Doc []Elem

// Lookup returns the value of the first element with the given key.
func (d Doc) Lookup(key string) (Value, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// LookupPath walks nested documents by key, e.g. LookupPath("a", "b") looks
// up "b" inside the document found at "a".
func (d Doc) LookupPath(keys ...string) (Value, bool) {
	cur := d
	for i, k := range keys {
		v, ok := cur.Lookup(k)
		if !ok {
			return Value{}, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		nested, err := v.AsDocument()
		if err != nil {
			return Value{}, false
		}
		cur = nested
	}
	return Value{}, false
}

// Append returns a copy of d with a new element appended.
func (d Doc) Append(key string, v Value) Doc {
	return append(d, Elem{Key: key, Value: v})
}

// Encode serializes d into its canonical wire form: an int32 total length,
// followed by each element as (type byte, cstring key, value body), and a
// terminating 0x00, exactly as spec §4.1 describes.
func (d Doc) Encode() ([]byte, error) {
	// Body length first so we can fill in the length prefix without a
	// second pass: 4 (length) + elements + 1 (terminator).
	body := make([]byte, 4)

	for _, e := range d {
		if !validUTF8(e.Key) {
			return nil, newInvalidBSONError("key %q is not valid UTF-8", e.Key)
		}
		body = append(body, byte(e.Value.Type))
		body = appendCString(body, e.Key)
		body = append(body, e.Value.Data...)
	}
	body = append(body, 0x00)

	binary.LittleEndian.PutUint32(body[0:4], uint32(len(body)))
	return body, nil
}

// Marshal is an alias for Doc.Encode kept for call-site symmetry with
// Unmarshal.
func Marshal(d Doc) ([]byte, error) {
	return d.Encode()
}

// Unmarshal decodes a canonical BSON document, per spec §4.1: the declared
// length must match the buffer exactly, every cstring must be NUL
// terminated and valid UTF-8, every type byte must be recognized, and any
// nested array's keys must be the canonical "0","1",... sequence.
func Unmarshal(data []byte) (Doc, error) {
	elems, consumed, err := decodeElements(data)
	if err != nil {
		return nil, err
	}
	if consumed != len(data) {
		return nil, newInvalidBSONError("trailing %d byte(s) after document", len(data)-consumed)
	}
	return elems, nil
}

// decodeElements decodes one document starting at data[0] and returns the
// elements plus the number of bytes consumed (including the length prefix
// and terminator), so callers decoding nested documents can advance past
// exactly the bytes that belong to them.
func decodeElements(data []byte) (Doc, int, error) {
	if len(data) < 5 {
		return nil, 0, newInvalidBSONError("buffer too short (%d bytes) to hold a document", len(data))
	}

	declaredLen := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	if declaredLen < 5 || declaredLen > len(data) {
		return nil, 0, newInvalidBSONError("declared length %d does not fit in %d byte buffer", declaredLen, len(data))
	}

	buf := data[:declaredLen]
	pos := 4

	var doc Doc
	for {
		if pos >= len(buf) {
			return nil, 0, newInvalidBSONError("document missing terminating 0x00")
		}
		tByte := buf[pos]
		pos++
		if tByte == 0x00 {
			if pos != len(buf) {
				return nil, 0, newInvalidBSONError("terminator appears before declared end of document")
			}
			break
		}

		t := bsontype.Type(tByte)
		key, n, err := readCString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n

		val, n, err := readValue(buf[pos:], t)
		if err != nil {
			return nil, 0, err
		}
		pos += n

		doc = append(doc, Elem{Key: key, Value: val})
	}

	return doc, declaredLen, nil
}

// readCString reads a NUL-terminated, UTF-8 validated string used for keys,
// regex fragments, and namespaces.
func readCString(buf []byte) (string, int, error) {
	i := 0
	for i < len(buf) && buf[i] != 0x00 {
		i++
	}
	if i == len(buf) {
		return "", 0, newInvalidBSONError("cstring missing NUL terminator")
	}
	s := string(buf[:i])
	if !validUTF8(s) {
		return "", 0, newInvalidBSONError("cstring %q is not valid UTF-8", s)
	}
	return s, i + 1, nil
}

// readBSONString reads the int32-length-prefixed string form used for
// String, JavaScript, and Symbol values, returning the full encoded body
// (length prefix, bytes, and trailing NUL) as the Value's Data.
func readBSONString(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, newInvalidBSONError("truncated string length prefix")
	}
	strLen := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
	if strLen < 1 || 4+strLen > len(buf) {
		return nil, 0, newInvalidBSONError("string length %d out of range", strLen)
	}
	body := buf[0 : 4+strLen]
	if body[len(body)-1] != 0x00 {
		return nil, 0, newInvalidBSONError("string value missing NUL terminator")
	}
	if !validUTF8(string(body[4 : len(body)-1])) {
		return nil, 0, newInvalidBSONError("string value is not valid UTF-8")
	}
	return body, 4 + strLen, nil
}

// readValue reads a single value body for type t from buf, returning the
// exact bytes that belong to it (self-contained, including any internal
// length prefix) and how many bytes were consumed.
func readValue(buf []byte, t bsontype.Type) (Value, int, error) {
	switch t {
	case bsontype.Double, bsontype.DateTime, bsontype.Int64, bsontype.Timestamp:
		if len(buf) < 8 {
			return Value{}, 0, newInvalidBSONError("truncated %s value", t)
		}
		return Value{Type: t, Data: buf[:8]}, 8, nil

	case bsontype.Int32:
		if len(buf) < 4 {
			return Value{}, 0, newInvalidBSONError("truncated int32 value")
		}
		return Value{Type: t, Data: buf[:4]}, 4, nil

	case bsontype.Boolean:
		if len(buf) < 1 {
			return Value{}, 0, newInvalidBSONError("truncated bool value")
		}
		if buf[0] > 1 {
			return Value{}, 0, newInvalidBSONError("invalid bool value byte 0x%x", buf[0])
		}
		return Value{Type: t, Data: buf[:1]}, 1, nil

	case bsontype.ObjectID:
		if len(buf) < 12 {
			return Value{}, 0, newInvalidBSONError("truncated objectID value")
		}
		return Value{Type: t, Data: buf[:12]}, 12, nil

	case bsontype.Decimal128:
		if len(buf) < 16 {
			return Value{}, 0, newInvalidBSONError("truncated decimal128 value")
		}
		return Value{Type: t, Data: buf[:16]}, 16, nil

	case bsontype.Null, bsontype.Undefined, bsontype.MinKey, bsontype.MaxKey:
		return Value{Type: t}, 0, nil

	case bsontype.String, bsontype.JavaScript, bsontype.Symbol:
		body, n, err := readBSONString(buf)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: t, Data: body}, n, nil

	case bsontype.EmbeddedDocument, bsontype.Array:
		if len(buf) < 4 {
			return Value{}, 0, newInvalidBSONError("truncated %s value", t)
		}
		elems, n, err := decodeElements(buf)
		if err != nil {
			return Value{}, 0, err
		}
		if t == bsontype.Array {
			for i, e := range elems {
				if e.Key != itoa(i) {
					return Value{}, 0, newInvalidBSONError("array key %q at position %d is not canonical", e.Key, i)
				}
			}
		}
		return Value{Type: t, Data: buf[:n]}, n, nil

	case bsontype.Binary:
		if len(buf) < 5 {
			return Value{}, 0, newInvalidBSONError("truncated binary value")
		}
		payloadLen := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
		if payloadLen < 0 || 5+payloadLen > len(buf) {
			return Value{}, 0, newInvalidBSONError("binary length %d out of range", payloadLen)
		}
		total := 5 + payloadLen
		if bsontype.BinarySubtype(buf[4]) == bsontype.BinaryOldBinary {
			if payloadLen < 4 {
				return Value{}, 0, newInvalidBSONError("legacy binary value missing inner length")
			}
			innerLen := int(int32(binary.LittleEndian.Uint32(buf[5:9])))
			if innerLen != payloadLen-4 {
				return Value{}, 0, newInvalidBSONError("legacy binary inner length %d does not match outer length", innerLen)
			}
		}
		return Value{Type: t, Data: buf[:total]}, total, nil

	case bsontype.Regex:
		pattern, n1, err := readCString(buf)
		if err != nil {
			return Value{}, 0, err
		}
		opts, n2, err := readCString(buf[n1:])
		if err != nil {
			return Value{}, 0, err
		}
		_ = pattern
		_ = opts
		return Value{Type: t, Data: buf[:n1+n2]}, n1 + n2, nil

	case bsontype.DBPointer:
		strBody, n1, err := readBSONString(buf)
		if err != nil {
			return Value{}, 0, err
		}
		if len(buf) < n1+12 {
			return Value{}, 0, newInvalidBSONError("truncated dbPointer value")
		}
		_ = strBody
		return Value{Type: t, Data: buf[:n1+12]}, n1 + 12, nil

	case bsontype.CodeWithScope:
		if len(buf) < 4 {
			return Value{}, 0, newInvalidBSONError("truncated code-with-scope value")
		}
		total := int(int32(binary.LittleEndian.Uint32(buf[0:4])))
		if total < 4 || total > len(buf) {
			return Value{}, 0, newInvalidBSONError("code-with-scope length %d out of range", total)
		}
		return Value{Type: t, Data: buf[:total]}, total, nil

	default:
		return Value{}, 0, newInvalidBSONError("unknown BSON type byte 0x%x", byte(t))
	}
}
