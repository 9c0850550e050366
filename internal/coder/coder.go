// Package coder converts record attributes to and from msgpack blobs,
// checking every value against the entity's declared attribute types.
package coder

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
)

// Coder encodes and decodes attribute maps for one model. It is stateless
// and safe for concurrent use.
type Coder struct{}

// New returns a Coder.
func New() *Coder {
	return &Coder{}
}

// Encode produces a msgpack map of the entity's attributes. Keys are
// sorted and integers compacted so identical values always produce
// identical bytes.
//
// Absent or nil values are omitted unless the attribute is required; a
// required attribute falls back to its default and otherwise fails with
// apperr.ErrEncoding. Unknown attribute names and values of the wrong Go
// type also fail with apperr.ErrEncoding.
func (c *Coder) Encode(values models.Attributes, entity *schema.Entity) ([]byte, error) {
	for name := range values {
		if _, ok := entity.Attribute(name); !ok {
			return nil, fmt.Errorf("coder: encode %s: %w: unknown attribute %q", entity.Name, apperr.ErrEncoding, name)
		}
	}

	out := make(map[string]any, len(entity.Attributes))
	for _, attr := range entity.Attributes {
		v := values[attr.Name]
		if v == nil {
			if attr.Optional {
				continue
			}
			if attr.Default == nil {
				return nil, fmt.Errorf("coder: encode %s: %w: missing required attribute %q", entity.Name, apperr.ErrEncoding, attr.Name)
			}
			v = attr.Default
		}
		cv, err := attr.Type.Canonical(v)
		if err != nil {
			return nil, fmt.Errorf("coder: encode %s.%s: %w", entity.Name, attr.Name, err)
		}
		out[attr.Name] = cv
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("coder: encode %s: %w: %w", entity.Name, apperr.ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode (or any msgpack map with string
// keys). A value whose encoded type disagrees with the model fails with
// apperr.ErrWrongEncodedType; values are never coerced between kinds.
// Missing attributes take their declared default or stay absent. Keys the
// model does not know are dropped.
func (c *Coder) Decode(data []byte, entity *schema.Entity) (models.Attributes, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("coder: decode %s: %w: root is not a map: %w", entity.Name, apperr.ErrWrongEncodedType, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("coder: decode %s: %w: root is nil", entity.Name, apperr.ErrWrongEncodedType)
	}

	out := make(models.Attributes, len(entity.Attributes))
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("coder: decode %s: %w: key %d: %w", entity.Name, apperr.ErrWrongEncodedType, i, err)
		}
		raw, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, fmt.Errorf("coder: decode %s.%s: %w: %w", entity.Name, key, apperr.ErrWrongEncodedType, err)
		}
		attr, ok := entity.Attribute(key)
		if !ok {
			continue
		}
		v, err := checkDecoded(attr, raw)
		if err != nil {
			return nil, fmt.Errorf("coder: decode %s: %w", entity.Name, err)
		}
		if v != nil {
			out[key] = v
		}
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("coder: decode %s: %w: %d trailing bytes", entity.Name, apperr.ErrWrongEncodedType, r.Len())
	}

	for _, attr := range entity.Attributes {
		if _, ok := out[attr.Name]; !ok && attr.Default != nil {
			out[attr.Name] = attr.Default
		}
	}
	return out, nil
}

// checkDecoded matches a loosely decoded msgpack value against attr.
func checkDecoded(attr schema.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	ok := false
	switch attr.Type {
	case schema.TypeString:
		_, ok = v.(string)
	case schema.TypeDate:
		if d, isTime := v.(time.Time); isTime {
			return d.UTC(), nil
		}
	case schema.TypeInteger16, schema.TypeInteger32, schema.TypeInteger64:
		var n int64
		switch x := v.(type) {
		case int64:
			n, ok = x, true
		case uint64:
			n, ok = int64(x), x <= math.MaxInt64
		}
		if ok {
			cv, err := attr.Type.Canonical(n)
			if err != nil {
				return nil, fmt.Errorf("%w: attribute %q: %d out of range for %s", apperr.ErrWrongEncodedType, attr.Name, n, attr.Type)
			}
			return cv, nil
		}
	case schema.TypeDouble:
		_, ok = v.(float64)
	case schema.TypeBoolean:
		_, ok = v.(bool)
	case schema.TypeBinary:
		_, ok = v.([]byte)
	}
	if !ok {
		return nil, fmt.Errorf("%w: attribute %q: encoded %T, model wants %s", apperr.ErrWrongEncodedType, attr.Name, v, attr.Type)
	}
	return v, nil
}
