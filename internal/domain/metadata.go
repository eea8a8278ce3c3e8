package domain

import (
	"encoding/json"
	"strings"
)

// Metadata is an opaque key/value document: tool params, rollback snapshots
// and execution results are all stored this way.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = map[string]any(Metadata(nested).Clone())
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the trimmed string stored at key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// Bool accepts JSON booleans and the strings "true"/"false".
func (m Metadata) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// Map returns the nested object stored at key.
func (m Metadata) Map(key string) (map[string]any, bool) {
	switch v := m[key].(type) {
	case map[string]any:
		return v, true
	case Metadata:
		return v, true
	default:
		return nil, false
	}
}

func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Merge returns a copy of m with every key of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Normalize round-trips m through JSON so values have the shapes a store would
// return (float64 numbers, map[string]any objects).
func (m Metadata) Normalize() (Metadata, error) {
	if m == nil {
		return Metadata{}, nil
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out Metadata
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return out, nil
}
