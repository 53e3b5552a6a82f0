// Package schema decodes typed MIP records from raw record bytes using
// data-driven layouts: an ordered list of big-endian primitive fields plus the
// category and type ids the layout answers to.
package schema

import (
	"errors"
	"fmt"

	"github.com/kabili207/mip-go/core/codec"
)

var (
	ErrUnknownPrimitive = errors.New("unknown primitive type")
	ErrInvalidLayout    = errors.New("invalid record layout")
	ErrFieldDecode      = errors.New("field decode failure")
	ErrLayoutMismatch   = errors.New("record does not match layout")
)

// FieldDecodeError reports a field that overran its record's data.
// It matches ErrFieldDecode with errors.Is.
type FieldDecodeError struct {
	Layout   string
	Field    string
	Offset   int
	Required int
	Provided int
}

func (e *FieldDecodeError) Error() string {
	return fmt.Sprintf("%s: %s.%s at offset %d needs %d bytes, %d available",
		ErrFieldDecode, e.Layout, e.Field, e.Offset, e.Required, e.Provided)
}

func (e *FieldDecodeError) Unwrap() error {
	return ErrFieldDecode
}

// Field is one named primitive subfield of a record.
type Field struct {
	Name string
	Type Primitive
}

// Layout describes the byte layout of one record type.
type Layout struct {
	Name     string
	Category uint8
	TypeID   uint8
	Fields   []Field

	offsets []int
	size    int
}

// NewLayout validates fields and precomputes the offset table.
func NewLayout(name string, category, typeID uint8, fields ...Field) (*Layout, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidLayout)
	}

	l := &Layout{
		Name:     name,
		Category: category,
		TypeID:   typeID,
		Fields:   fields,
		offsets:  make([]int, len(fields)),
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f.Type.Size() == 0 {
			return nil, fmt.Errorf("%w: %s.%s has no valid type", ErrInvalidLayout, name, f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: %s has duplicate field %q", ErrInvalidLayout, name, f.Name)
		}
		seen[f.Name] = true

		if i > 0 {
			l.offsets[i] = l.offsets[i-1] + fields[i-1].Type.Size()
		}
		l.size += f.Type.Size()
	}

	if l.size > codec.MaxRecordData {
		return nil, fmt.Errorf("%w: %s needs %d bytes, records hold at most %d",
			ErrInvalidLayout, name, l.size, codec.MaxRecordData)
	}
	return l, nil
}

// Offsets returns the byte offset of each field within the record data.
func (l *Layout) Offsets() []int {
	out := make([]int, len(l.offsets))
	copy(out, l.offsets)
	return out
}

// Size returns the number of data bytes the layout reads.
func (l *Layout) Size() int {
	return l.size
}

// FieldIndex returns the position of the named field, or -1.
func (l *Layout) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Decode reads every field from data. Bytes beyond the layout's size are ignored.
func (l *Layout) Decode(data []byte) (*Record, error) {
	values := make([]Value, len(l.Fields))
	for i, f := range l.Fields {
		off, n := l.offsets[i], f.Type.Size()
		if off+n > len(data) {
			return nil, &FieldDecodeError{
				Layout:   l.Name,
				Field:    f.Name,
				Offset:   off,
				Required: n,
				Provided: max(len(data)-off, 0),
			}
		}
		values[i] = readValue(f.Type, data[off:off+n])
	}
	return &Record{Layout: l, Values: values}, nil
}

// DecodeRecord decodes a raw record, checking that its type id matches.
func (l *Layout) DecodeRecord(rec codec.RawRecord) (*Record, error) {
	if rec.Descriptor != l.TypeID {
		return nil, fmt.Errorf("%w: %s expects type %#02x, got %#02x",
			ErrLayoutMismatch, l.Name, l.TypeID, rec.Descriptor)
	}
	return l.Decode(rec.Data)
}

// Encode is the inverse of Decode for records built from this layout.
func (l *Layout) Encode(r *Record) ([]byte, error) {
	if len(r.Values) != len(l.Fields) {
		return nil, fmt.Errorf("%w: %s has %d fields, record has %d values",
			ErrLayoutMismatch, l.Name, len(l.Fields), len(r.Values))
	}
	out := make([]byte, 0, l.size)
	for i, f := range l.Fields {
		if r.Values[i].Type != f.Type {
			return nil, fmt.Errorf("%w: %s.%s is %s, value is %s",
				ErrLayoutMismatch, l.Name, f.Name, f.Type, r.Values[i].Type)
		}
		out = r.Values[i].appendTo(out)
	}
	return out, nil
}
