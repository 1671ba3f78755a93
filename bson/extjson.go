package bson

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dkvstore/docdriver/bson/bsontype"
)

// MarshalExtJSON renders d as MongoDB extended JSON: every non-JSON-native
// BSON type is wrapped in a single-key "$type" object. Keys are emitted in
// sorted order, so the document's own key order is not preserved.
// UnmarshalExtJSON parses back only top-level strings, bools, null, numbers
// and the $numberInt, $numberLong, $numberDouble, $oid, $date, $undefined,
// $minKey and $maxKey wrappers; nested documents, arrays, $binary,
// $regularExpression, $timestamp and $numberDecimal do not round-trip.
func MarshalExtJSON(d Doc) ([]byte, error) {
	m, err := docToExtJSON(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalExtJSON parses canonical extended JSON back into a Doc.
func UnmarshalExtJSON(data []byte) (Doc, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	// encoding/json's map decoding loses key order; extended JSON produced
	// by this package is only required to round-trip its own output when
	// order matters, so for standalone parsing we fall back to a
	// best-effort ordered scan for the common "flat command" case.
	keys, err := orderedKeys(data)
	if err != nil {
		return nil, err
	}

	doc := make(Doc, 0, len(keys))
	for _, k := range keys {
		v, err := extJSONToValue(raw[k])
		if err != nil {
			return nil, err
		}
		doc = append(doc, Elem{Key: k, Value: v})
	}
	return doc, nil
}

// orderedKeys performs a minimal top-level scan of a JSON object literal to
// recover key order, since encoding/json's map-based decode does not
// preserve it.
func orderedKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(jsonBytesReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("bson: extended JSON document must be a top-level object")
	}

	var keys []string
	depth := 0
	for dec.More() || depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		case string:
			if depth == 0 {
				keys = append(keys, t)
				// skip the value token(s) belonging to this key
				if err := skipJSONValue(dec); err != nil {
					return keys, nil
				}
			}
		}
		if depth < 0 {
			break
		}
	}
	return keys, nil
}

func skipJSONValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	_ = d
	return nil
}

func jsonBytesReader(b []byte) *jsonBR { return &jsonBR{b: b} }

type jsonBR struct {
	b   []byte
	pos int
}

func (r *jsonBR) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("EOF")
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func docToExtJSON(d Doc) (map[string]interface{}, error) {
	m := make(map[string]interface{}, len(d))
	for _, e := range d {
		v, err := valueToExtJSON(e.Value)
		if err != nil {
			return nil, err
		}
		m[e.Key] = v
	}
	return m, nil
}

func valueToExtJSON(v Value) (interface{}, error) {
	switch v.Type {
	case bsontype.Double:
		return map[string]string{"$numberDouble": strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)}, nil
	case bsontype.String:
		return v.StringValue(), nil
	case bsontype.EmbeddedDocument:
		nested, err := v.AsDocument()
		if err != nil {
			return nil, err
		}
		return docToExtJSON(nested)
	case bsontype.Array:
		arr, err := v.AsArray()
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i], err = valueToExtJSON(e)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case bsontype.Binary:
		return map[string]interface{}{"$binary": map[string]string{
			"base64":  base64.StdEncoding.EncodeToString(v.BinaryPayload()),
			"subType": fmt.Sprintf("%02x", byte(v.BinarySubtype())),
		}}, nil
	case bsontype.Undefined:
		return map[string]bool{"$undefined": true}, nil
	case bsontype.ObjectID:
		return map[string]string{"$oid": v.AsObjectID().Hex()}, nil
	case bsontype.Boolean:
		return v.AsBoolean(), nil
	case bsontype.DateTime:
		return map[string]map[string]string{"$date": {"$numberLong": strconv.FormatInt(v.AsDateTimeMS(), 10)}}, nil
	case bsontype.Null:
		return nil, nil
	case bsontype.Regex:
		pattern, opts := splitRegex(v.Data)
		return map[string]interface{}{"$regularExpression": map[string]string{"pattern": pattern, "options": opts}}, nil
	case bsontype.Int32:
		return map[string]string{"$numberInt": strconv.FormatInt(int64(v.AsInt32()), 10)}, nil
	case bsontype.Timestamp:
		ts := v.AsTimestamp()
		return map[string]interface{}{"$timestamp": map[string]uint32{"t": ts.T, "i": ts.I}}, nil
	case bsontype.Int64:
		return map[string]string{"$numberLong": strconv.FormatInt(v.AsInt64(), 10)}, nil
	case bsontype.Decimal128:
		return map[string]string{"$numberDecimal": v.AsDecimal128().String()}, nil
	case bsontype.MinKey:
		return map[string]int{"$minKey": 1}, nil
	case bsontype.MaxKey:
		return map[string]int{"$maxKey": 1}, nil
	default:
		return nil, fmt.Errorf("bson: extended JSON encoding of %s is not supported", v.Type)
	}
}

func splitRegex(data []byte) (string, string) {
	i := 0
	for i < len(data) && data[i] != 0x00 {
		i++
	}
	pattern := string(data[:i])
	opts := string(data[i+1 : len(data)-1])
	return pattern, opts
}

func extJSONToValue(raw json.RawMessage) (Value, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper) == 1 {
		for k, inner := range wrapper {
			switch k {
			case "$numberInt":
				var s string
				_ = json.Unmarshal(inner, &s)
				n, err := strconv.ParseInt(s, 10, 32)
				if err != nil {
					return Value{}, err
				}
				return Int32(int32(n)), nil
			case "$numberLong":
				var s string
				_ = json.Unmarshal(inner, &s)
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return Value{}, err
				}
				return Int64(n), nil
			case "$numberDouble":
				var s string
				_ = json.Unmarshal(inner, &s)
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return Value{}, err
				}
				return Double(f), nil
			case "$oid":
				var s string
				_ = json.Unmarshal(inner, &s)
				id, err := ObjectIDFromHex(s)
				if err != nil {
					return Value{}, err
				}
				return ObjectIDValue(id), nil
			case "$date":
				var nested map[string]string
				if err := json.Unmarshal(inner, &nested); err == nil {
					ms, _ := strconv.ParseInt(nested["$numberLong"], 10, 64)
					return DateTime(ms), nil
				}
				var iso string
				_ = json.Unmarshal(inner, &iso)
				t, err := time.Parse(time.RFC3339Nano, iso)
				if err != nil {
					return Value{}, err
				}
				return DateTime(t.UnixMilli()), nil
			case "$undefined":
				return Undefined(), nil
			case "$minKey":
				return MinKeyValue(), nil
			case "$maxKey":
				return MaxKeyValue(), nil
			case "$numberDecimal":
				return Value{}, fmt.Errorf("bson: parsing $numberDecimal from extended JSON is not supported")
			}
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return String(s), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Boolean(b), nil
	}
	if string(raw) == "null" {
		return Null(), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Double(f), nil
	}

	return Value{}, fmt.Errorf("bson: cannot convert extended JSON value %s", raw)
}
