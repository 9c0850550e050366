// Package schema describes record entities and their typed attributes.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/apperr"
)

// AttributeType is the declared type of an attribute.
type AttributeType string

// Supported attribute types. Relationships are not supported.
const (
	TypeString    AttributeType = "string"
	TypeDate      AttributeType = "date"
	TypeInteger16 AttributeType = "integer16"
	TypeInteger32 AttributeType = "integer32"
	TypeInteger64 AttributeType = "integer64"
	TypeDouble    AttributeType = "double"
	TypeBoolean   AttributeType = "boolean"
	TypeBinary    AttributeType = "binary"
)

var (
	entityNameRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	attributeNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// IsInteger reports whether t is one of the integer widths.
func (t AttributeType) IsInteger() bool {
	return t == TypeInteger16 || t == TypeInteger32 || t == TypeInteger64
}

func (t AttributeType) intRange() (int64, int64) {
	switch t {
	case TypeInteger16:
		return math.MinInt16, math.MaxInt16
	case TypeInteger32:
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

// Canonical converts a Go value to the canonical representation for t:
// string, time.Time (UTC), int64, float64, bool or []byte. It never coerces
// across kinds; a value of the wrong kind returns apperr.ErrEncoding.
func (t AttributeType) Canonical(v any) (any, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeDate:
		if d, ok := v.(time.Time); ok {
			return d.UTC(), nil
		}
	case TypeInteger16, TypeInteger32, TypeInteger64:
		n, ok := toInt64(v)
		if !ok {
			break
		}
		lo, hi := t.intRange()
		if n < lo || n > hi {
			return nil, fmt.Errorf("%w: %d overflows %s", apperr.ErrEncoding, n, t)
		}
		return n, nil
	case TypeDouble:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeBinary:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown attribute type %q", apperr.ErrEncoding, t)
	}
	return nil, fmt.Errorf("%w: %T is not a %s value", apperr.ErrEncoding, v, t)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// Attribute is one named, typed field of an entity.
type Attribute struct {
	Name     string        `yaml:"name" json:"name"`
	Type     AttributeType `yaml:"type" json:"type"`
	Optional bool          `yaml:"optional" json:"optional"`
	Default  any           `yaml:"default" json:"default,omitempty"`
}

// Validate validates the attribute definition and normalises Default.
func (a *Attribute) Validate() error {
	if err := validation.ValidateStruct(a,
		validation.Field(&a.Name, validation.Required, validation.Match(attributeNameRe)),
		validation.Field(&a.Type, validation.Required, validation.In(
			TypeString, TypeDate, TypeInteger16, TypeInteger32, TypeInteger64,
			TypeDouble, TypeBoolean, TypeBinary,
		)),
	); err != nil {
		return fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	if a.Default == nil {
		return nil
	}
	d, err := a.Type.Canonical(normalizeDefault(a.Type, a.Default))
	if err != nil {
		return fmt.Errorf("attribute %q: default: %w", a.Name, err)
	}
	a.Default = d
	return nil
}

// normalizeDefault adapts the shapes YAML produces (RFC 3339 strings for
// dates, strings for binary) before canonical conversion.
func normalizeDefault(t AttributeType, v any) any {
	s, ok := v.(string)
	if !ok {
		if t == TypeDouble {
			if n, isInt := toInt64(v); isInt {
				return float64(n)
			}
		}
		return v
	}
	switch t {
	case TypeDate:
		if d, err := time.Parse(time.RFC3339, s); err == nil {
			return d
		}
	case TypeBinary:
		return []byte(s)
	}
	return v
}

// Entity is a named record type with an ordered attribute list.
type Entity struct {
	Name       string      `yaml:"name" json:"name"`
	Attributes []Attribute `yaml:"attributes" json:"attributes"`

	byName map[string]int
}

// Validate validates the entity and indexes its attributes.
func (e *Entity) Validate() error {
	if err := validation.ValidateStruct(e,
		validation.Field(&e.Name, validation.Required, validation.Match(entityNameRe)),
	); err != nil {
		return fmt.Errorf("entity %q: %w", e.Name, err)
	}
	e.byName = make(map[string]int, len(e.Attributes))
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if err := a.Validate(); err != nil {
			return fmt.Errorf("entity %q: %w", e.Name, err)
		}
		if _, dup := e.byName[a.Name]; dup {
			return fmt.Errorf("entity %q: duplicate attribute %q", e.Name, a.Name)
		}
		e.byName[a.Name] = i
	}
	return nil
}

// Attribute looks up an attribute by name.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	if e.byName == nil {
		for _, a := range e.Attributes {
			if a.Name == name {
				return a, true
			}
		}
		return Attribute{}, false
	}
	i, ok := e.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return e.Attributes[i], true
}

// Model is the set of entities the store knows about.
type Model struct {
	Entities []*Entity `yaml:"entities" json:"entities"`

	byName map[string]*Entity
}

// NewModel validates and indexes the given entities.
func NewModel(entities ...*Entity) (*Model, error) {
	m := &Model{Entities: entities}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate validates every entity and rejects duplicate names.
func (m *Model) Validate() error {
	if len(m.Entities) == 0 {
		return fmt.Errorf("schema: model has no entities")
	}
	m.byName = make(map[string]*Entity, len(m.Entities))
	for _, e := range m.Entities {
		if e == nil {
			return fmt.Errorf("schema: nil entity")
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		if _, dup := m.byName[e.Name]; dup {
			return fmt.Errorf("schema: duplicate entity %q", e.Name)
		}
		m.byName[e.Name] = e
	}
	return nil
}

// Entity returns the named entity or apperr.ErrEntityDoesNotExist.
func (m *Model) Entity(name string) (*Entity, error) {
	if e, ok := m.byName[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", apperr.ErrEntityDoesNotExist, name)
}

// Names returns the entity names in sorted order.
func (m *Model) Names() []string {
	out := make([]string, 0, len(m.byName))
	for n := range m.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ValidEntityName reports whether name can be used as an entity name.
// Entity names never contain '_', which separates entity and ref in file names.
func ValidEntityName(name string) bool {
	return entityNameRe.MatchString(name)
}
