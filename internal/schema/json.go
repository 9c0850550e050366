package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// FromJSON converts a value decoded from JSON (with json.Decoder.UseNumber
// or plain float64 numbers) to the canonical representation for t. Dates
// are RFC 3339 strings and binary values standard base64 strings, matching
// how canonical values marshal to JSON.
func (t AttributeType) FromJSON(v any) (any, error) {
	switch t {
	case TypeDate:
		if s, ok := v.(string); ok {
			d, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("%w: date %q: %v", apperr.ErrEncoding, s, err)
			}
			return d.UTC(), nil
		}
	case TypeBinary:
		if s, ok := v.(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: binary: %v", apperr.ErrEncoding, err)
			}
			return b, nil
		}
	case TypeInteger16, TypeInteger32, TypeInteger64:
		switch n := v.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s is not an integer", apperr.ErrEncoding, n)
			}
			return t.Canonical(i)
		case float64:
			if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
				return nil, fmt.Errorf("%w: %v is not an integer", apperr.ErrEncoding, n)
			}
			return t.Canonical(int64(n))
		}
	case TypeDouble:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s is not a number", apperr.ErrEncoding, n)
			}
			return f, nil
		}
	}
	return t.Canonical(v)
}

// ValuesFromJSON converts a JSON object to attribute values of e. Null
// values are kept as nil; unknown attributes fail with apperr.ErrEncoding.
func (e *Entity) ValuesFromJSON(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		attr, ok := e.Attribute(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w: unknown attribute %q", e.Name, apperr.ErrEncoding, name)
		}
		if v == nil {
			out[name] = nil
			continue
		}
		cv, err := attr.Type.FromJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", e.Name, name, err)
		}
		out[name] = cv
	}
	return out, nil
}
