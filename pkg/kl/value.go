package kl

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"
)

// internPool deduplicates the strings held by Values. Two Values carrying the
// same string share the same pointer, so equality and hashing reduce to
// pointer identity. Entries are never evicted; the pool lives as long as the
// process.
var internPool = struct {
	sync.Mutex
	table map[string]*string
}{table: make(map[string]*string, 32)}

func internString(s string) *string {
	internPool.Lock()
	defer internPool.Unlock()

	if p, ok := internPool.table[s]; ok {
		return p
	}
	p := new(string)
	*p = s
	internPool.table[s] = p
	return p
}

// ValueKind discriminates the variants of a Value. The declaration order
// defines the cross-variant ordering used by Value.Less.
type ValueKind uint8

const (
	KindEmpty ValueKind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a dynamic scalar: empty, integer, float, boolean, or interned
// string. The zero Value is empty. Values are comparable with ==; for strings
// this works because the pool guarantees pointer identity.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    *string
}

func IntValue[T ~int | ~int8 | ~int16 | ~int32 | ~int64](v T) Value {
	return Value{kind: KindInt, i: int64(v)}
}

func UintValue[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](v T) Value {
	return Value{kind: KindInt, i: int64(v)}
}

func FloatValue(v float64) Value {
	return Value{kind: KindFloat, f: v}
}

func BoolValue(v bool) Value {
	return Value{kind: KindBool, b: v}
}

func StringValue(s string) Value {
	return Value{kind: KindString, s: internString(s)}
}

// ValueOf converts a native Go scalar (or a Value) to a Value. It panics on
// unsupported types; this is a programmer error, not an input error.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case bool:
		return BoolValue(x)
	case int:
		return IntValue(x)
	case int8:
		return IntValue(x)
	case int16:
		return IntValue(x)
	case int32:
		return IntValue(x)
	case int64:
		return IntValue(x)
	case uint:
		return UintValue(x)
	case uint8:
		return UintValue(x)
	case uint16:
		return UintValue(x)
	case uint32:
		return UintValue(x)
	case uint64:
		return UintValue(x)
	case float32:
		return FloatValue(float64(x))
	case float64:
		return FloatValue(x)
	case string:
		return StringValue(x)
	case Type:
		return StringValue(x.Name())
	case TemplateArg:
		return StringValue(x.Get())
	default:
		panic(fmt.Sprintf("kl: cannot convert %T to a Value", v))
	}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsEmpty() bool   { return v.kind == KindEmpty }
func (v Value) IsFloat() bool   { return v.kind == KindFloat }

// IsString reports whether the value has a string rendering; every non-empty
// value does.
func (v Value) IsString() bool { return v.kind != KindEmpty }

// IsBool reports whether the value can be read as a boolean: either it is a
// boolean, or it is an integer 0 or 1.
func (v Value) IsBool() bool {
	return v.kind == KindBool || (v.kind == KindInt && (v.i == 0 || v.i == 1))
}

// IsInt reports whether the value fits losslessly in a signed 64-bit integer.
// Booleans count as 0 or 1.
func (v Value) IsInt() bool {
	return v.kind == KindInt || v.kind == KindBool
}

// Less orders values by variant tag first, then by value within a variant.
func (v Value) Less(that Value) bool {
	if v.kind != that.kind {
		return v.kind < that.kind
	}
	switch v.kind {
	case KindInt:
		return v.i < that.i
	case KindFloat:
		return v.f < that.f
	case KindString:
		return *v.s < *that.s
	case KindBool:
		return !v.b && that.b
	default:
		return false
	}
}

// Hash returns a stable hash of the value.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte{byte(v.kind)})
	switch v.kind {
	case KindInt:
		var buf [8]byte
		putUint64(buf[:], uint64(v.i))
		_, _ = h.Write(buf[:])
	case KindFloat:
		var buf [8]byte
		putUint64(buf[:], math.Float64bits(v.f))
		_, _ = h.Write(buf[:])
	case KindString:
		_, _ = h.Write([]byte(*v.s))
	case KindBool:
		if v.b {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// String renders the value the way it would appear inside a kernel source:
// integers and floats as decimal literals, booleans as true/false, strings
// verbatim, empty as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return *v.s
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (v Value) ToString() string { return v.String() }

func (v Value) ToBool() (bool, error) {
	switch {
	case v.kind == KindBool:
		return v.b, nil
	case v.kind == KindInt && (v.i == 0 || v.i == 1):
		return v.i == 1, nil
	}
	return false, castError(v, "bool")
}

func (v Value) ToFloat64() (float64, error) {
	if v.kind == KindFloat {
		return v.f, nil
	}
	return 0, castError(v, "double")
}

func (v Value) ToFloat32() (float32, error) {
	f, err := v.ToFloat64()
	return float32(f), err
}

// intIn returns the integer payload if it fits in [lo, hi]. Booleans narrow
// to 0 or 1.
func (v Value) intIn(lo, hi int64, typeName string) (int64, error) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case KindInt:
		if v.i >= lo && v.i <= hi {
			return v.i, nil
		}
	}
	return 0, castError(v, typeName)
}

func (v Value) ToInt64() (int64, error) {
	return v.intIn(math.MinInt64, math.MaxInt64, "int64")
}

func (v Value) ToInt32() (int32, error) {
	i, err := v.intIn(math.MinInt32, math.MaxInt32, "int32")
	return int32(i), err
}

func (v Value) ToInt16() (int16, error) {
	i, err := v.intIn(math.MinInt16, math.MaxInt16, "int16")
	return int16(i), err
}

func (v Value) ToInt8() (int8, error) {
	i, err := v.intIn(math.MinInt8, math.MaxInt8, "int8")
	return int8(i), err
}

func (v Value) ToUint64() (uint64, error) {
	i, err := v.intIn(0, math.MaxInt64, "uint64")
	return uint64(i), err
}

func (v Value) ToUint32() (uint32, error) {
	i, err := v.intIn(0, math.MaxUint32, "uint32")
	return uint32(i), err
}

func (v Value) ToUint16() (uint16, error) {
	i, err := v.intIn(0, math.MaxUint16, "uint16")
	return uint16(i), err
}

func (v Value) ToUint8() (uint8, error) {
	i, err := v.intIn(0, math.MaxUint8, "uint8")
	return uint8(i), err
}

func castError(v Value, target string) error {
	return fmt.Errorf("%w: %s (%s) cannot be cast to %s", ErrCast, v.String(), v.kind, target)
}

// MarshalJSON maps each variant onto its natural JSON scalar; empty maps to
// null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(*v.s)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON rebuilds a Value from its JSON scalar form. Numbers without a
// fractional part become integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := valueFromJSON(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func valueFromJSON(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return IntValue(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("kl: invalid json number %q", x.String())
		}
		return FloatValue(f), nil
	case float64:
		if f := x; f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return IntValue(int64(f)), nil
		}
		return FloatValue(x), nil
	default:
		return Value{}, fmt.Errorf("kl: cannot decode %T as a value", raw)
	}
}
