package schema

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Primitive is a fixed-width big-endian numeric wire type.
type Primitive uint8

const (
	Int8 Primitive = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var primitiveNames = map[Primitive]string{
	Int8:    "i8",
	Uint8:   "u8",
	Int16:   "i16",
	Uint16:  "u16",
	Int32:   "i32",
	Uint32:  "u32",
	Int64:   "i64",
	Uint64:  "u64",
	Float32: "f32",
	Float64: "f64",
}

// ParsePrimitive maps a catalog type name ("u16", "f32", ...) to a Primitive.
func ParsePrimitive(name string) (Primitive, error) {
	for p, n := range primitiveNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPrimitive, name)
}

func (p Primitive) String() string {
	if n, ok := primitiveNames[p]; ok {
		return n
	}
	return "unknown"
}

// Size returns the encoded width in bytes, or 0 for an invalid Primitive.
func (p Primitive) Size() int {
	switch p {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

func (p Primitive) isFloat() bool {
	return p == Float32 || p == Float64
}

func (p Primitive) isSigned() bool {
	return p == Int8 || p == Int16 || p == Int32 || p == Int64
}

// Value is one decoded primitive. The raw big-endian bits are kept so that
// re-encoding is exact, including NaN payloads.
type Value struct {
	Type Primitive
	bits uint64
}

func readValue(p Primitive, b []byte) Value {
	var bits uint64
	switch p.Size() {
	case 1:
		bits = uint64(b[0])
	case 2:
		bits = uint64(binary.BigEndian.Uint16(b))
	case 4:
		bits = uint64(binary.BigEndian.Uint32(b))
	case 8:
		bits = binary.BigEndian.Uint64(b)
	}
	return Value{Type: p, bits: bits}
}

func (v Value) appendTo(b []byte) []byte {
	switch v.Type.Size() {
	case 1:
		return append(b, uint8(v.bits))
	case 2:
		return binary.BigEndian.AppendUint16(b, uint16(v.bits))
	case 4:
		return binary.BigEndian.AppendUint32(b, uint32(v.bits))
	case 8:
		return binary.BigEndian.AppendUint64(b, v.bits)
	}
	return b
}

// Uint returns the value as an unsigned integer. Signed values are
// sign-extended; floats are truncated.
func (v Value) Uint() uint64 {
	return uint64(v.Int())
}

// Int returns the value as a signed integer. Floats are truncated.
func (v Value) Int() int64 {
	switch v.Type {
	case Int8:
		return int64(int8(v.bits))
	case Int16:
		return int64(int16(v.bits))
	case Int32:
		return int64(int32(v.bits))
	case Float32, Float64:
		return int64(v.Float())
	default:
		return int64(v.bits)
	}
}

// Float returns the value as a float64.
func (v Value) Float() float64 {
	switch v.Type {
	case Float32:
		return float64(math.Float32frombits(uint32(v.bits)))
	case Float64:
		return math.Float64frombits(v.bits)
	default:
		if v.Type.isSigned() {
			return float64(v.Int())
		}
		return float64(v.bits)
	}
}

func (v Value) String() string {
	switch {
	case v.Type == Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case v.Type == Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case v.Type.isSigned():
		return strconv.FormatInt(v.Int(), 10)
	default:
		return strconv.FormatUint(v.bits, 10)
	}
}

// Float32Value wraps f as an f32 Value.
func Float32Value(f float32) Value {
	return Value{Type: Float32, bits: uint64(math.Float32bits(f))}
}

// Float64Value wraps f as an f64 Value.
func Float64Value(f float64) Value {
	return Value{Type: Float64, bits: math.Float64bits(f)}
}

// IntValue wraps i as a Value of integer type p, truncating to p's width.
func IntValue(p Primitive, i int64) Value {
	bits := uint64(i)
	if n := p.Size(); n < 8 {
		bits &= 1<<(8*n) - 1
	}
	return Value{Type: p, bits: bits}
}
