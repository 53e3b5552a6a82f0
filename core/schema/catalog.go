package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"
)

var (
	ErrInvalidCatalog    = errors.New("invalid catalog")
	ErrDuplicateCategory = errors.New("duplicate category id")
	ErrDuplicateRecord   = errors.New("duplicate record type id")
)

//go:embed catalog.toml
var defaultCatalogTOML []byte

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalogTOML)
})

// Default returns the catalog shipped with the module: the IMU, GNSS and
// filter data sets plus the command categories, which carry no data records.
func Default() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("schema: embedded catalog: %v", err))
	}
	return c
}

// Category groups the record layouts of one packet category (descriptor set).
type Category struct {
	ID      uint8
	Name    string
	Layouts []*Layout

	byType map[uint8]*Layout
}

// NewCategory builds a category from layouts, which must all belong to id and
// have distinct type ids. Layout order is kept.
func NewCategory(id uint8, name string, layouts ...*Layout) (*Category, error) {
	c := &Category{
		ID:      id,
		Name:    name,
		Layouts: layouts,
		byType:  make(map[uint8]*Layout, len(layouts)),
	}
	for _, l := range layouts {
		if l.Category != id {
			return nil, fmt.Errorf("%w: layout %s belongs to category %#02x, not %#02x",
				ErrInvalidCatalog, l.Name, l.Category, id)
		}
		if prev, ok := c.byType[l.TypeID]; ok {
			return nil, fmt.Errorf("%w: %#02x used by %s and %s", ErrDuplicateRecord, l.TypeID, prev.Name, l.Name)
		}
		c.byType[l.TypeID] = l
	}
	return c, nil
}

// Layout returns the layout registered for typeID.
func (c *Category) Layout(typeID uint8) (*Layout, bool) {
	l, ok := c.byType[typeID]
	return l, ok
}

// Catalog is the set of categories a dispatcher recognizes.
type Catalog struct {
	categories map[uint8]*Category
}

// NewCatalog builds a catalog; category ids must be unique.
func NewCatalog(categories ...*Category) (*Catalog, error) {
	c := &Catalog{categories: make(map[uint8]*Category, len(categories))}
	for _, cat := range categories {
		if _, ok := c.categories[cat.ID]; ok {
			return nil, fmt.Errorf("%w: %#02x", ErrDuplicateCategory, cat.ID)
		}
		c.categories[cat.ID] = cat
	}
	return c, nil
}

// Category returns the category registered for id.
func (c *Catalog) Category(id uint8) (*Category, bool) {
	cat, ok := c.categories[id]
	return cat, ok
}

// Layout returns the layout for a category and record type.
func (c *Catalog) Layout(category, typeID uint8) (*Layout, bool) {
	cat, ok := c.categories[category]
	if !ok {
		return nil, false
	}
	return cat.Layout(typeID)
}

// Categories returns all categories ordered by id.
func (c *Catalog) Categories() []*Category {
	out := make([]*Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	slices.SortFunc(out, func(a, b *Category) int { return int(a.ID) - int(b.ID) })
	return out
}

type catalogFile struct {
	Categories []categoryFile `toml:"category"`
}

type categoryFile struct {
	ID      int          `toml:"id"`
	Name    string       `toml:"name"`
	Records []recordFile `toml:"record"`
}

type recordFile struct {
	ID     int         `toml:"id"`
	Name   string      `toml:"name"`
	Fields []fieldFile `toml:"fields"`
}

type fieldFile struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// LoadCatalog reads a TOML catalog description from path.
func LoadCatalog(path string) (*Catalog, error) {
	var raw catalogFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return raw.build()
}

// ParseCatalog parses a TOML catalog description.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw catalogFile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return raw.build()
}

func (f catalogFile) build() (*Catalog, error) {
	cats := make([]*Category, 0, len(f.Categories))
	for _, rc := range f.Categories {
		id, err := byteID("category "+rc.Name, rc.ID)
		if err != nil {
			return nil, err
		}

		layouts := make([]*Layout, 0, len(rc.Records))
		for _, rr := range rc.Records {
			typeID, err := byteID("record "+rr.Name, rr.ID)
			if err != nil {
				return nil, err
			}
			fields := make([]Field, 0, len(rr.Fields))
			for _, rf := range rr.Fields {
				p, err := ParsePrimitive(rf.Type)
				if err != nil {
					return nil, fmt.Errorf("%w: %s.%s: %w", ErrInvalidCatalog, rr.Name, rf.Name, err)
				}
				fields = append(fields, Field{Name: rf.Name, Type: p})
			}
			l, err := NewLayout(rr.Name, id, typeID, fields...)
			if err != nil {
				return nil, err
			}
			layouts = append(layouts, l)
		}

		cat, err := NewCategory(id, rc.Name, layouts...)
		if err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	return NewCatalog(cats...)
}

func byteID(what string, v int) (uint8, error) {
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("%w: %s id %d out of range", ErrInvalidCatalog, what, v)
	}
	return uint8(v), nil
}
