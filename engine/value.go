package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind tags the variant carried by a Value. It plays the same role as
// netidx_value::Typ in the original implementation and as reflect.Kind does
// in yaegi's node.rval slot, except graphix never interops with host Go
// values: every Value is one of a closed set of dataflow-language primitives.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindI32
	KindI64
	KindU32
	KindU64
	KindF32
	KindF64
	KindString
	KindBytes
	KindDateTime
	KindDuration
	KindArray
	KindMap
	KindTuple
	KindVariant
	KindError
	KindFn
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindDateTime:
		return "datetime"
	case KindDuration:
		return "duration"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindTuple:
		return "tuple"
	case KindVariant:
		return "variant"
	case KindError:
		return "error"
	case KindFn:
		return "fn"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a Map value. Keys are unique within a
// Map; order is insertion order, not sorted order (§3).
type MapEntry struct {
	Key Value
	Val Value
}

// Value is the immutable, cheaply-clonable tagged value every node in the
// graph produces. Composite payloads (Array/Map/Tuple/Variant) are held by
// slice header only: since Values are never mutated after construction, two
// clones of a composite Value share the same backing array, which is what
// spec.md §3 means by "structurally shared" and "cheaply clonable".
type Value struct {
	kind Kind
	bits uint64 // bool/i32/i64/u32/u64/f32/f64/fn-id bit pattern
	str  string // string/bytes payload
	t    time.Time
	dur  time.Duration
	arr  []Value     // array/tuple elements, or variant payload
	tag  string      // variant tag
	m    []MapEntry  // map entries
	err  *Value      // error payload
}

func NewNull() Value { return Value{kind: KindNull} }

func NewBool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

func NewI32(n int32) Value          { return Value{kind: KindI32, bits: uint64(uint32(n))} }
func NewI64(n int64) Value          { return Value{kind: KindI64, bits: uint64(n)} }
func NewU32(n uint32) Value         { return Value{kind: KindU32, bits: uint64(n)} }
func NewU64(n uint64) Value         { return Value{kind: KindU64, bits: n} }
func NewF32(f float32) Value        { return Value{kind: KindF32, bits: uint64(math.Float32bits(f))} }
func NewF64(f float64) Value        { return Value{kind: KindF64, bits: math.Float64bits(f)} }
func NewString(s string) Value      { return Value{kind: KindString, str: s} }
func NewBytes(b []byte) Value       { return Value{kind: KindBytes, str: string(b)} }
func NewDateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }
func NewDuration(d time.Duration) Value {
	return Value{kind: KindDuration, dur: d}
}
func NewArray(elts []Value) Value { return Value{kind: KindArray, arr: elts} }
func NewTuple(elts []Value) Value { return Value{kind: KindTuple, arr: elts} }
func NewVariant(tag string, payload []Value) Value {
	return Value{kind: KindVariant, tag: tag, arr: payload}
}
func NewMap(entries []MapEntry) Value { return Value{kind: KindMap, m: entries} }
func NewError(payload Value) Value    { return Value{kind: KindError, err: &payload} }
func NewFnRef(id LambdaId) Value      { return Value{kind: KindFn, bits: uint64(id)} }

func (v Value) Kind() Kind { return v.kind }

// Clone returns a value referencing the same immutable backing storage as v;
// it is O(1) regardless of v's shape.
func (v Value) Clone() Value { return v }

func (v Value) IsError() bool { return v.kind == KindError }

func (v Value) AsError() (Value, bool) {
	if v.kind != KindError {
		return Value{}, false
	}
	return *v.err, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.bits != 0, true
}

func (v Value) AsI64() (int64, bool) {
	switch v.kind {
	case KindI32:
		return int64(int32(v.bits)), true
	case KindI64:
		return int64(v.bits), true
	case KindU32:
		return int64(uint32(v.bits)), true
	case KindU64:
		return int64(v.bits), true
	default:
		return 0, false
	}
}

func (v Value) AsF64() (float64, bool) {
	switch v.kind {
	case KindF32:
		return float64(math.Float32frombits(uint32(v.bits))), true
	case KindF64:
		return math.Float64frombits(v.bits), true
	default:
		if n, ok := v.AsI64(); ok {
			return float64(n), true
		}
		return 0, false
	}
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return []byte(v.str), true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray && v.kind != KindTuple {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsVariant() (string, []Value, bool) {
	if v.kind != KindVariant {
		return "", nil, false
	}
	return v.tag, v.arr, true
}

func (v Value) AsMap() ([]MapEntry, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

func (v Value) AsFnRef() (LambdaId, bool) {
	if v.kind != KindFn {
		return 0, false
	}
	return LambdaId(v.bits), true
}

func (v Value) AsDateTime() (time.Time, bool) {
	if v.kind != KindDateTime {
		return time.Time{}, false
	}
	return v.t, true
}

func (v Value) AsDuration() (time.Duration, bool) {
	if v.kind != KindDuration {
		return 0, false
	}
	return v.dur, true
}

// Equal is structural equality, recursing into composites.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		if n1, ok1 := v.AsF64(); ok1 {
			if n2, ok2 := o.AsF64(); ok2 && isNumeric(v.kind) && isNumeric(o.kind) {
				return n1 == n2
			}
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindI32, KindI64, KindU32, KindU64, KindF32, KindF64, KindFn:
		return v.bits == o.bits
	case KindString, KindBytes:
		return v.str == o.str
	case KindDateTime:
		return v.t.Equal(o.t)
	case KindDuration:
		return v.dur == o.dur
	case KindArray, KindTuple:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindVariant:
		if v.tag != o.tag || len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for _, e := range v.m {
			found := false
			for _, oe := range o.m {
				if e.Key.Equal(oe.Key) {
					found = e.Val.Equal(oe.Val)
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case KindError:
		return v.err.Equal(*o.err)
	default:
		return false
	}
}

func isNumeric(k Kind) bool {
	switch k {
	case KindI32, KindI64, KindU32, KindU64, KindF32, KindF64:
		return true
	default:
		return false
	}
}

// Compare provides a total order over comparable primitives; ok is false
// when the two values are not order-comparable (composites, mixed
// incomparable kinds).
func (v Value) Compare(o Value) (int, bool) {
	if isNumeric(v.kind) && isNumeric(o.kind) {
		a, _ := v.AsF64()
		b, _ := o.AsF64()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	}
	if v.kind != o.kind {
		return 0, false
	}
	switch v.kind {
	case KindString, KindBytes:
		switch {
		case v.str < o.str:
			return -1, true
		case v.str > o.str:
			return 1, true
		default:
			return 0, true
		}
	case KindBool:
		if v.bits == o.bits {
			return 0, true
		}
		if v.bits == 0 {
			return -1, true
		}
		return 1, true
	case KindDateTime:
		switch {
		case v.t.Before(o.t):
			return -1, true
		case v.t.After(o.t):
			return 1, true
		default:
			return 0, true
		}
	case KindDuration:
		switch {
		case v.dur < o.dur:
			return -1, true
		case v.dur > o.dur:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case KindI32, KindI64:
		n, _ := v.AsI64()
		return strconv.FormatInt(n, 10)
	case KindU32, KindU64:
		return strconv.FormatUint(v.bits, 10)
	case KindF32, KindF64:
		f, _ := v.AsF64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case KindString:
		return v.str
	case KindBytes:
		return fmt.Sprintf("%x", []byte(v.str))
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindDuration:
		return v.dur.String()
	case KindArray:
		return fmt.Sprintf("%v", v.arr)
	case KindTuple:
		return fmt.Sprintf("(%v)", v.arr)
	case KindVariant:
		if len(v.arr) == 0 {
			return v.tag
		}
		return fmt.Sprintf("%s%v", v.tag, v.arr)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	case KindError:
		return fmt.Sprintf("error(%v)", *v.err)
	case KindFn:
		return fmt.Sprintf("fn#%d", v.bits)
	default:
		return "?"
	}
}

// CastTo performs lossless narrowing/widening conversion to the requested
// Kind, per §4.A (integer range checks, string parsing, duration/datetime
// coercion). It fails rather than silently truncating.
func (v Value) CastTo(k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	if v.kind == KindU64 && v.bits > math.MaxInt64 && (k == KindI64 || k == KindI32) {
		return Value{}, fmt.Errorf("cannot cast %s to %s: out of range", v, k)
	}
	switch k {
	case KindI64:
		if n, ok := v.AsI64(); ok {
			return NewI64(n), nil
		}
		if f, ok := v.AsF64(); ok && f == math.Trunc(f) {
			return NewI64(int64(f)), nil
		}
		if s, ok := v.AsString(); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("cannot cast %s to i64: %w", v, err)
			}
			return NewI64(n), nil
		}
	case KindI32:
		if n, ok := v.AsI64(); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return Value{}, fmt.Errorf("cannot cast %s to i32: out of range", v)
			}
			return NewI32(int32(n)), nil
		}
	case KindF64:
		if f, ok := v.AsF64(); ok {
			return NewF64(f), nil
		}
		if s, ok := v.AsString(); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Value{}, fmt.Errorf("cannot cast %s to f64: %w", v, err)
			}
			return NewF64(f), nil
		}
	case KindString:
		return NewString(v.String()), nil
	case KindBool:
		if b, ok := v.AsBool(); ok {
			return NewBool(b), nil
		}
	case KindDuration:
		if s, ok := v.AsString(); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return Value{}, fmt.Errorf("cannot cast %s to duration: %w", v, err)
			}
			return NewDuration(d), nil
		}
	case KindDateTime:
		if s, ok := v.AsString(); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return Value{}, fmt.Errorf("cannot cast %s to datetime: %w", v, err)
			}
			return NewDateTime(t), nil
		}
	}
	return Value{}, fmt.Errorf("cannot cast %s (%s) to %s", v, v.kind, k)
}
