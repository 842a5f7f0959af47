// File: api/schemas/fieldmap.go
package schemas

import (
	"bytes"
	"fmt"
	"reflect"

	json "github.com/json-iterator/go"
)

// FieldMap is an ordered mapping from target field name to rendered value.
// The zero value is ready to use.
type FieldMap struct {
	keys   []string
	values map[string]any
}

// NewFieldMap creates a FieldMap from alternating key/value pairs.
func NewFieldMap(pairs ...any) FieldMap {
	var m FieldMap
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return m
}

// Set stores value under key. A new key goes to the end; an existing key
// keeps its position.
func (m *FieldMap) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Append concatenates s to the string form of key's value, creating the key
// if needed.
func (m *FieldMap) Append(key, s string) {
	cur, ok := m.Get(key)
	if !ok || cur == nil {
		m.Set(key, s)
		return
	}
	m.Set(key, fmt.Sprint(cur)+s)
}

// Get returns the value for key.
func (m FieldMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// GetString returns key's value formatted as a string, or "".
func (m FieldMap) GetString(key string) string {
	v, ok := m.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys returns the field names in insertion order.
func (m FieldMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of fields.
func (m FieldMap) Len() int { return len(m.keys) }

// Clone returns an independent copy. Values are not deep-copied.
func (m FieldMap) Clone() FieldMap {
	var out FieldMap
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// Equal reports whether both maps hold equal values under the same keys in
// the same order.
func (m FieldMap) Equal(o FieldMap) bool {
	if len(m.keys) != len(o.keys) {
		return false
	}
	for i, k := range m.keys {
		if o.keys[i] != k || !reflect.DeepEqual(m.values[k], o.values[k]) {
			return false
		}
	}
	return true
}

// Map returns an unordered copy, for collaborators that take a plain map.
func (m FieldMap) Map() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k]
	}
	return out
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
