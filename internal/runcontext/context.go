// File: internal/runcontext/context.go
package runcontext

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const redacted = "****"

// Context is the property bag threaded through a sync run. A Context is
// owned by one branch at a time; derived branches get their own copy through
// Copy or Overlay, so no locking is needed.
type Context struct {
	values  map[string]any
	secrets map[string]struct{}
}

// New creates a Context holding a copy of props.
func New(props map[string]any) *Context {
	c := &Context{
		values:  make(map[string]any, len(props)),
		secrets: make(map[string]struct{}),
	}
	for k, v := range props {
		c.values[k] = v
	}
	return c
}

// Get returns the raw value of key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value of key as a string. Non-string values are
// formatted with fmt; absent and nil values give "".
func (c *Context) GetString(key string) string {
	v, ok := c.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether key is present, even with a nil value.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// IsBlank reports whether key is absent, nil, or a whitespace-only string.
func (c *Context) IsBlank(key string) bool {
	v, ok := c.values[key]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// SetAll stores every entry of props, overwriting existing keys.
func (c *Context) SetAll(props map[string]any) {
	for k, v := range props {
		c.values[k] = v
	}
}

// MarkSecret flags key as secret. Secret values never appear in Redacted or
// LogFields output.
func (c *Context) MarkSecret(key string) {
	c.secrets[key] = struct{}{}
}

// IsSecret reports whether key was flagged with MarkSecret.
func (c *Context) IsSecret(key string) bool {
	_, ok := c.secrets[key]
	return ok
}

// Copy returns an independent Context with the same values and secret flags.
// Values themselves are not deep-copied.
func (c *Context) Copy() *Context {
	n := New(c.values)
	for k := range c.secrets {
		n.secrets[k] = struct{}{}
	}
	return n
}

// Overlay returns a copy of c with props written over it. c is not modified.
func (c *Context) Overlay(props map[string]any) *Context {
	n := c.Copy()
	n.SetAll(props)
	return n
}

// Keys returns the property names in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of properties.
func (c *Context) Len() int { return len(c.values) }

// Values returns a copy of all properties, secrets included. It is meant for
// expression evaluation, never for logging.
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Redacted returns a copy of all properties with secret values masked.
func (c *Context) Redacted() map[string]any {
	out := c.Values()
	for k := range c.secrets {
		if _, ok := out[k]; ok {
			out[k] = redacted
		}
	}
	return out
}

// LogFields renders the properties as zap fields, masking secrets.
func (c *Context) LogFields() []zap.Field {
	red := c.Redacted()
	fields := make([]zap.Field, 0, len(red))
	for _, k := range c.Keys() {
		fields = append(fields, zap.Any(k, red[k]))
	}
	return fields
}
