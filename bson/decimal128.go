package bson

import "strconv"

// Decimal128 holds the 128-bit IEEE 754-2008 decimal value as its raw
// high/low 64-bit halves. The codec only needs bit-exact storage and a
// readable string form — no arithmetic is performed, since query planning
// and numeric evaluation are out of scope for this driver.
type Decimal128 struct {
	hi, lo uint64
}

// NewDecimal128FromBits constructs a Decimal128 directly from its two
// 64-bit halves, as read off the wire.
func NewDecimal128FromBits(hi, lo uint64) Decimal128 {
	return Decimal128{hi: hi, lo: lo}
}

// Bits returns the raw high/low halves, for re-encoding.
func (d Decimal128) Bits() (hi, lo uint64) {
	return d.hi, d.lo
}

const (
	decimal128ExpMax = 6111
	decimal128ExpMin = -6176
	decimal128Bias   = -decimal128ExpMin
)

func decimal128Divmod(h, l uint64, div uint32) (qh, ql uint64, rem uint32) {
	div64 := uint64(div)
	a := h >> 32
	aq := a / div64
	ar := a % div64
	b := ar<<32 + h&(1<<32-1)
	bq := b / div64
	br := b % div64
	c := br<<32 + l>>32
	cq := c / div64
	cr := c % div64
	d := cr<<32 + l&(1<<32-1)
	dq := d / div64
	dr := d % div64
	return (aq<<32 | bq), (cq<<32 | dq), uint32(dr)
}

// String renders the decimal128 value using the shortest form that
// round-trips, matching the published extended-JSON canonical form.
func (d Decimal128) String() string {
	h, l := d.hi, d.lo

	var negative int
	if h>>63&1 == 0 {
		negative = 1
	}

	switch h >> 58 & (1<<5 - 1) {
	case 0x1F:
		return "NaN"
	case 0x1E:
		return "-Infinity"[negative:]
	}

	var exp int
	var high, low uint64
	low = l
	if h>>61&3 == 3 {
		exp = int(h >> 47 & (1<<14 - 1))
		high, low = 0, 0
	} else {
		exp = int(h >> 49 & (1<<14 - 1))
		high = h & (1<<49 - 1)
	}
	exp += decimal128ExpMin

	if high == 0 && low == 0 && exp == 0 {
		return "-0"[negative:]
	}

	var repr [48]byte
	last := len(repr)
	i := len(repr)
	dot := len(repr) + exp
	var rem uint32

Loop:
	for d9 := 0; d9 < 5; d9++ {
		high, low, rem = decimal128Divmod(high, low, 1e9)
		for d1 := 0; d1 < 9; d1++ {
			if i < len(repr) && (dot == i || low == 0 && high == 0 && rem > 0 && rem < 10 && (dot < i-6 || exp > 0)) {
				exp += len(repr) - i
				i--
				repr[i] = '.'
				last = i - 1
				dot = len(repr)
			}
			c := '0' + byte(rem%10)
			rem /= 10
			i--
			repr[i] = c
			if low == 0 && high == 0 && rem == 0 && i == len(repr)-1 && (dot < i-5 || exp > 0) {
				last = i
				break Loop
			}
			if c != '0' {
				last = i
			}
			if dot > i && low == 0 && high == 0 && rem == 0 {
				break Loop
			}
		}
	}
	repr[last-1] = '-'
	last--

	switch {
	case exp > 0:
		return string(repr[last+negative:]) + "E+" + strconv.Itoa(exp)
	case exp < 0:
		return string(repr[last+negative:]) + "E" + strconv.Itoa(exp)
	default:
		return string(repr[last+negative:])
	}
}
