package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec3(t *testing.T, typeID uint8) *Layout {
	t.Helper()
	l, err := NewLayout("vec3", 0x80, typeID,
		Field{Name: "x", Type: Float32},
		Field{Name: "y", Type: Float32},
		Field{Name: "z", Type: Float32},
	)
	require.NoError(t, err)
	return l
}

func TestLayout_Offsets(t *testing.T) {
	tests := []struct {
		name    string
		fields  []Field
		offsets []int
		size    int
	}{
		{
			name:    "three words",
			fields:  []Field{{"a", Uint32}, {"b", Int32}, {"c", Float32}},
			offsets: []int{0, 4, 8},
			size:    12,
		},
		{
			name:    "mixed widths",
			fields:  []Field{{"tow", Float64}, {"week", Uint16}, {"flags", Uint16}},
			offsets: []int{0, 8, 10},
			size:    12,
		},
		{
			name:    "bytes",
			fields:  []Field{{"a", Uint8}, {"b", Int8}, {"c", Int64}, {"d", Int16}},
			offsets: []int{0, 1, 2, 10},
			size:    12,
		},
		{
			name:    "no fields",
			offsets: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLayout(tt.name, 0x80, 0x01, tt.fields...)
			require.NoError(t, err)
			assert.Equal(t, tt.offsets, l.Offsets())
			assert.Equal(t, tt.size, l.Size())
		})
	}
}

func TestNewLayout_Invalid(t *testing.T) {
	_, err := NewLayout("", 0x80, 0x01)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = NewLayout("bad", 0x80, 0x01, Field{Name: "x", Type: Primitive(0)})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = NewLayout("dup", 0x80, 0x01, Field{"x", Uint8}, Field{"x", Uint8})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	huge := make([]Field, 32)
	for i := range huge {
		huge[i] = Field{Name: string(rune('a' + i)), Type: Float64}
	}
	_, err = NewLayout("huge", 0x80, 0x01, huge...)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestLayout_Decode(t *testing.T) {
	l := vec3(t, 0x04)
	data := []byte{0x3D, 0x36, 0xFC, 0xEA, 0xBC, 0xBE, 0x8D, 0xC0, 0x3F, 0x7F, 0x96, 0xDC}

	rec, err := l.Decode(data)
	require.NoError(t, err)
	require.Len(t, rec.Values, 3)

	x, ok := rec.Get("x")
	require.True(t, ok)
	assert.InDelta(t, 0.044674791, x.Float(), 1e-6)
	y, _ := rec.Get("y")
	assert.InDelta(t, -0.023260951, y.Float(), 1e-6)
	z, _ := rec.Get("z")
	assert.InDelta(t, 0.998395681, z.Float(), 1e-6)

	_, ok = rec.Get("w")
	assert.False(t, ok)
	assert.Equal(t, uint8(0x80), rec.Category())
	assert.Equal(t, uint8(0x04), rec.TypeID())
}

func TestLayout_DecodeMixed(t *testing.T) {
	l, err := NewLayout("gps_correlation_timestamp", 0x80, 0x12,
		Field{"tow", Float64}, Field{"week", Uint16}, Field{"flags", Uint16})
	require.NoError(t, err)

	rec, err := l.Decode([]byte{0x40, 0x67, 0xD2, 0x7E, 0xF9, 0xDB, 0x22, 0xD1, 0x00, 0x00, 0x00, 0x06})
	require.NoError(t, err)

	tow, _ := rec.Get("tow")
	assert.InDelta(t, 190.578, tow.Float(), 1e-9)
	week, _ := rec.Get("week")
	assert.Equal(t, uint64(0), week.Uint())
	flags, _ := rec.Get("flags")
	assert.Equal(t, uint64(6), flags.Uint())
	assert.Equal(t, "gps_correlation_timestamp{tow=190.578 week=0 flags=6}", rec.String())
}

func TestLayout_DecodeSigned(t *testing.T) {
	l, err := NewLayout("signed", 0x81, 0x01,
		Field{"a", Int8}, Field{"b", Int16}, Field{"c", Int32}, Field{"d", Int64})
	require.NoError(t, err)

	data := []byte{
		0xFF,
		0xFF, 0xFE,
		0xFF, 0xFF, 0xFF, 0xFD,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFC,
	}
	rec, err := l.Decode(data)
	require.NoError(t, err)

	for i, want := range []int64{-1, -2, -3, -4} {
		assert.Equal(t, want, rec.Values[i].Int(), "field %d", i)
		assert.Equal(t, float64(want), rec.Values[i].Float(), "field %d", i)
	}
	assert.Equal(t, "-3", rec.Values[2].String())
}

func TestLayout_DecodeShort(t *testing.T) {
	l := vec3(t, 0x04)

	_, err := l.Decode(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFieldDecode))

	var fde *FieldDecodeError
	require.ErrorAs(t, err, &fde)
	assert.Equal(t, "z", fde.Field)
	assert.Equal(t, 8, fde.Offset)
	assert.Equal(t, 4, fde.Required)
	assert.Equal(t, 2, fde.Provided)

	_, err = l.Decode(nil)
	require.ErrorAs(t, err, &fde)
	assert.Equal(t, "x", fde.Field)
	assert.Equal(t, 0, fde.Provided)
}

func TestLayout_DecodeIgnoresExtraBytes(t *testing.T) {
	l := vec3(t, 0x04)
	rec, err := l.Decode(make([]byte, 16))
	require.NoError(t, err)
	assert.Len(t, rec.Values, 3)
}

func TestLayout_DecodeRecordMismatch(t *testing.T) {
	l := vec3(t, 0x04)
	raw, err := l.Decode(make([]byte, 12))
	require.NoError(t, err)

	rr, err := raw.RawRecord()
	require.NoError(t, err)
	rr.Descriptor = 0x05

	_, err = l.DecodeRecord(rr)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
}

func TestLayout_EncodeInverse(t *testing.T) {
	l, err := NewLayout("all", 0x82, 0x10,
		Field{"a", Uint8}, Field{"b", Int16}, Field{"c", Uint32},
		Field{"d", Float32}, Field{"e", Float64}, Field{"f", Uint64})
	require.NoError(t, err)

	data := []byte{
		0x7F,
		0x80, 0x01,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x7F, 0xC0, 0x00, 0x01, // NaN with payload
		0x40, 0x09, 0x21, 0xFB, 0x54, 0x44, 0x2D, 0x18,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}

	rec, err := l.Decode(data)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(rec.Values[3].Float()))

	out, err := l.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	rr, err := rec.RawRecord()
	require.NoError(t, err)
	assert.Equal(t, uint8(2+len(data)), rr.Length)
	assert.Equal(t, uint8(0x10), rr.Descriptor)

	back, err := l.DecodeRecord(rr)
	require.NoError(t, err)
	assert.Equal(t, rec.Values, back.Values)
}

func TestLayout_EncodeRejectsWrongValues(t *testing.T) {
	l := vec3(t, 0x04)

	_, err := l.Encode(&Record{Layout: l, Values: []Value{Float32Value(1)}})
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = l.Encode(&Record{Layout: l, Values: []Value{
		Float32Value(1), Float64Value(2), Float32Value(3),
	}})
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	out, err := l.Encode(&Record{Layout: l, Values: []Value{
		Float32Value(1), Float32Value(-2), Float32Value(0.5),
	}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3F, 0x80, 0, 0, 0xC0, 0, 0, 0, 0x3F, 0, 0, 0}, out)
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, int64(-1), IntValue(Int8, -1).Int())
	assert.Equal(t, uint64(0xFF), IntValue(Uint8, -1).Uint())
	assert.Equal(t, uint64(0x1234), IntValue(Uint16, 0x51234).Uint())
	assert.Equal(t, "65535", IntValue(Uint16, -1).String())
}

func TestParsePrimitive(t *testing.T) {
	for p, name := range primitiveNames {
		got, err := ParsePrimitive(name)
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.Equal(t, name, p.String())
	}

	_, err := ParsePrimitive("f16")
	assert.ErrorIs(t, err, ErrUnknownPrimitive)
	assert.Equal(t, "unknown", Primitive(99).String())
}
