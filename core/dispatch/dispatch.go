// Package dispatch assembles per-category results from the raw records of a
// frame. Every category id resolves to a result: unknown ids produce an
// unrecognized result, and a record that fails to decode only empties its own slot.
package dispatch

import (
	"errors"

	"github.com/kabili207/mip-go/core/codec"
	"github.com/kabili207/mip-go/core/schema"
)

var ErrUnrecognizedCategory = errors.New("unrecognized category")

// Slot holds the decoded record for one known record type, if any.
type Slot struct {
	Layout *schema.Layout
	Record *schema.Record // nil when absent or undecodable
	Err    error          // decode failure, if the record was present but bad
}

// Empty reports whether the slot has no decoded record.
func (s Slot) Empty() bool {
	return s.Record == nil
}

// Result is the aggregate decoded from one frame.
type Result struct {
	Frame      *codec.RawFrame // nil when assembled directly from records
	Category   uint8
	Name       string
	Recognized bool
	Slots      []Slot  // catalog order
	Unknown    []uint8 // type ids present in the frame with no slot

	byType map[uint8]int
}

// Err returns ErrUnrecognizedCategory for unrecognized results, otherwise nil.
func (r *Result) Err() error {
	if !r.Recognized {
		return ErrUnrecognizedCategory
	}
	return nil
}

// Slot returns the slot for typeID.
func (r *Result) Slot(typeID uint8) (Slot, bool) {
	i, ok := r.byType[typeID]
	if !ok {
		return Slot{}, false
	}
	return r.Slots[i], true
}

// Record returns the decoded record for typeID, if one was decoded.
func (r *Result) Record(typeID uint8) (*schema.Record, bool) {
	s, ok := r.Slot(typeID)
	if !ok || s.Empty() {
		return nil, false
	}
	return s.Record, true
}

// Lookup returns the decoded record whose layout has the given name.
func (r *Result) Lookup(name string) (*schema.Record, bool) {
	for _, s := range r.Slots {
		if s.Layout.Name == name && !s.Empty() {
			return s.Record, true
		}
	}
	return nil, false
}

// Populated returns the number of slots holding a decoded record.
func (r *Result) Populated() int {
	n := 0
	for _, s := range r.Slots {
		if !s.Empty() {
			n++
		}
	}
	return n
}

// Failed returns the slots whose record was present but failed to decode.
func (r *Result) Failed() []Slot {
	var out []Slot
	for _, s := range r.Slots {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Dispatcher maps frames to results using a schema catalog.
type Dispatcher struct {
	catalog *schema.Catalog
}

// New creates a Dispatcher. A nil catalog uses schema.Default().
func New(catalog *schema.Catalog) *Dispatcher {
	if catalog == nil {
		catalog = schema.Default()
	}
	return &Dispatcher{catalog: catalog}
}

// Catalog returns the catalog in use.
func (d *Dispatcher) Catalog() *schema.Catalog {
	return d.catalog
}

// Dispatch assembles the result for a decoded frame.
func (d *Dispatcher) Dispatch(frame *codec.RawFrame) *Result {
	r := d.Assemble(frame.Category(), frame.Payload.Records)
	r.Frame = frame
	return r
}

// Assemble builds the result for category from records. When two records share
// a type id, the later one wins.
func (d *Dispatcher) Assemble(category uint8, records []codec.RawRecord) *Result {
	cat, ok := d.catalog.Category(category)
	if !ok {
		return &Result{Category: category}
	}

	latest := make(map[uint8]codec.RawRecord, len(records))
	var order []uint8
	for _, rec := range records {
		if _, seen := latest[rec.Descriptor]; !seen {
			order = append(order, rec.Descriptor)
		}
		latest[rec.Descriptor] = rec
	}

	r := &Result{
		Category:   category,
		Name:       cat.Name,
		Recognized: true,
		Slots:      make([]Slot, len(cat.Layouts)),
		byType:     make(map[uint8]int, len(cat.Layouts)),
	}
	for i, l := range cat.Layouts {
		r.byType[l.TypeID] = i
		r.Slots[i].Layout = l

		rec, ok := latest[l.TypeID]
		if !ok {
			continue
		}
		decoded, err := l.Decode(rec.Data)
		if err != nil {
			r.Slots[i].Err = err
			continue
		}
		r.Slots[i].Record = decoded
	}

	for _, typeID := range order {
		if _, ok := r.byType[typeID]; !ok {
			r.Unknown = append(r.Unknown, typeID)
		}
	}
	return r
}
