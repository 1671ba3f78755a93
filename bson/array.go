package bson

// NewArray encodes vs as a canonical BSON array: a document whose keys are
// the decimal string indices "0","1",… in order.
func NewArray(vs ...Value) Value {
	d := make(Doc, len(vs))
	for i, v := range vs {
		d[i] = Elem{Key: itoa(i), Value: v}
	}
	raw, err := d.Encode()
	if err != nil {
		// Only possible if a key failed UTF-8 validation, which cannot
		// happen for the itoa-generated keys used here.
		panic(err)
	}
	return ArrayValue(raw)
}
