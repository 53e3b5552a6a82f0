package schema

import (
	"strings"

	"github.com/kabili207/mip-go/core/codec"
)

// Record is a decoded, typed view of one raw record.
type Record struct {
	Layout *Layout
	Values []Value
}

// Category returns the owning category id.
func (r *Record) Category() uint8 {
	return r.Layout.Category
}

// TypeID returns the record type id within the category.
func (r *Record) TypeID() uint8 {
	return r.Layout.TypeID
}

// Get returns the named field's value.
func (r *Record) Get(name string) (Value, bool) {
	i := r.Layout.FieldIndex(name)
	if i < 0 {
		return Value{}, false
	}
	return r.Values[i], true
}

// RawRecord re-encodes the record for a frame.
func (r *Record) RawRecord() (codec.RawRecord, error) {
	data, err := r.Layout.Encode(r)
	if err != nil {
		return codec.RawRecord{}, err
	}
	return codec.NewRawRecord(r.Layout.TypeID, data)
}

func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteString(r.Layout.Name)
	sb.WriteByte('{')
	for i, f := range r.Layout.Fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(r.Values[i].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
