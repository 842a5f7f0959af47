// File: internal/runcontext/branch.go
package runcontext

import (
	"sort"
	"strings"
)

// Branch is one line of a resolver expansion: a Context plus the set of
// resolver ids whose property value on this branch came from default
// expansion. The set travels beside the Context so it never leaks into
// templates or submitted fields.
type Branch struct {
	Context   *Context
	generated map[string]struct{}
}

// NewBranch wraps ctx in a Branch with an empty generated set.
func NewBranch(ctx *Context) Branch {
	return Branch{Context: ctx}
}

// GeneratedBy reports whether resolverID produced this branch's value for
// its property.
func (b Branch) GeneratedBy(resolverID string) bool {
	_, ok := b.generated[resolverID]
	return ok
}

// WithGenerated returns b with resolverID added to the generated set. The
// receiver's set is left untouched so sibling branches stay independent.
func (b Branch) WithGenerated(resolverID string) Branch {
	set := make(map[string]struct{}, len(b.generated)+1)
	for k := range b.generated {
		set[k] = struct{}{}
	}
	set[resolverID] = struct{}{}
	return Branch{Context: b.Context, generated: set}
}

// WithContext returns b bound to ctx, sharing the generated set.
func (b Branch) WithContext(ctx *Context) Branch {
	return Branch{Context: ctx, generated: b.generated}
}

// Generated lists the resolver ids in sorted order.
func (b Branch) Generated() []string {
	ids := make([]string, 0, len(b.generated))
	for k := range b.generated {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Label renders "key=value" pairs for the given keys, skipping blank ones and
// masking secrets. With no keys it covers every generated property, which is
// normally what distinguishes sibling branches.
func (b Branch) Label(keys ...string) string {
	if b.Context == nil {
		return ""
	}
	if len(keys) == 0 {
		keys = b.Generated()
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if b.Context.IsBlank(k) {
			continue
		}
		v := b.Context.GetString(k)
		if b.Context.IsSecret(k) {
			v = redacted
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}
