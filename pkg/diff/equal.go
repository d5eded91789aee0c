package diff

import (
	"math"
	"reflect"
)

// Equal reports whether d and other hold the same entries, ignoring order.
// Nested children are compared recursively with the same rule.
func (d Diff) Equal(other Diff) bool {
	if len(d.entries) != len(other.entries) {
		return false
	}

	used := make([]bool, len(other.entries))
	for _, e := range d.entries {
		found := false
		for i, o := range other.entries {
			if used[i] || !e.equal(o) {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func (e Entry) equal(o Entry) bool {
	if e.Kind != o.Kind || e.Key != o.Key {
		return false
	}
	if e.Kind == KindNested {
		return e.Child.Equal(o.Child)
	}
	return ValuesEqual(e.Old, o.Old) && ValuesEqual(e.New, o.New)
}

// ValuesEqual compares two decoded configuration values. Numbers compare by
// value across Go numeric types; mappings and lists compare element-wise.
func ValuesEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an.equal(bn)
	}

	if am, ok := asMapping(a); ok {
		bm, ok := asMapping(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !ValuesEqual(av, bv) {
				return false
			}
		}
		return true
	}

	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !ValuesEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

type numberKind int

const (
	signedNumber numberKind = iota
	unsignedNumber
	floatNumber
)

// number holds a decoded numeric value without losing integer precision.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: signedNumber, i: int64(n)}, true
	case int8:
		return number{kind: signedNumber, i: int64(n)}, true
	case int16:
		return number{kind: signedNumber, i: int64(n)}, true
	case int32:
		return number{kind: signedNumber, i: int64(n)}, true
	case int64:
		return number{kind: signedNumber, i: n}, true
	case uint:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint8:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint16:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint32:
		return number{kind: unsignedNumber, u: uint64(n)}, true
	case uint64:
		return number{kind: unsignedNumber, u: n}, true
	case float32:
		return number{kind: floatNumber, f: float64(n)}, true
	case float64:
		return number{kind: floatNumber, f: n}, true
	default:
		return number{}, false
	}
}

// equal compares integers exactly. A float equals an integer only when it
// is integral and the integer is the same value.
func (n number) equal(o number) bool {
	if n.kind > o.kind {
		n, o = o, n
	}

	switch {
	case n.kind == floatNumber:
		return n.f == o.f
	case o.kind == floatNumber:
		return n.equalFloat(o.f)
	case n.kind == o.kind:
		return n.i == o.i && n.u == o.u
	default:
		// n signed, o unsigned
		return n.i >= 0 && uint64(n.i) == o.u
	}
}

func (n number) equalFloat(f float64) bool {
	if f != math.Trunc(f) {
		return false
	}
	if n.kind == signedNumber {
		if f < -(1<<63) || f >= 1<<63 {
			return false
		}
		return int64(f) == n.i
	}
	if f < 0 || f >= 1<<64 {
		return false
	}
	return uint64(f) == n.u
}

// asMapping returns v as a string-keyed mapping when it is one.
func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
