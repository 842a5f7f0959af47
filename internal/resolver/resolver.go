// File: internal/resolver/resolver.go
package resolver

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Candidate is one default value for a resolver's property, together with
// the properties that follow from choosing it.
type Candidate struct {
	Value      any
	Properties map[string]any
}

// DefaultValueExpander enumerates candidate values for an unresolved
// property. Implementations usually perform a remote lookup and load the
// mapped properties in the same round trip. An empty result is not an error.
type DefaultValueExpander interface {
	ExpandDefaults(ctx context.Context, props *runcontext.Context) ([]Candidate, error)
}

// PropertyMapper derives additional properties from an already resolved
// property value. It must be idempotent.
type PropertyMapper interface {
	MapProperties(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error)
}

// ExpanderFunc adapts a function to DefaultValueExpander.
type ExpanderFunc func(ctx context.Context, props *runcontext.Context) ([]Candidate, error)

func (f ExpanderFunc) ExpandDefaults(ctx context.Context, props *runcontext.Context) ([]Candidate, error) {
	return f(ctx, props)
}

// MapperFunc adapts a function to PropertyMapper.
type MapperFunc func(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error)

func (f MapperFunc) MapProperties(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error) {
	return f(ctx, props, value)
}

// Resolver owns one context property. It can expand defaults for it, map it
// to further properties, or both.
type Resolver struct {
	// Name distinguishes resolvers that hang off the same Property. Defaults
	// to Property.
	Name string
	// Property is the context key this resolver owns.
	Property string
	// Expander enumerates defaults when Property is blank. Optional.
	Expander DefaultValueExpander
	// Mapper adds properties derived from a supplied value. Optional.
	Mapper PropertyMapper
	// UseForDefaults enables default expansion. A resolver with an Expander
	// but UseForDefaults=false only maps.
	UseForDefaults bool
	// Required makes a blank, non-expandable property a configuration error
	// instead of a pass-through.
	Required bool
}

// ID identifies the resolver in a branch's generated set.
func (r *Resolver) ID() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Property
}

// IsEnabled reports whether the resolver participates in default expansion.
func (r *Resolver) IsEnabled() bool {
	return r.UseForDefaults && r.Expander != nil
}

// Resolve expands b for this resolver's property.
//
// With a value present, mapped properties are added to b's Context in place
// and b itself is returned. Without one, every default candidate produces a
// new branch over a copy of the Context, and b is left unmodified. Zero
// candidates prune the branch.
func (r *Resolver) Resolve(ctx context.Context, b runcontext.Branch) ([]runcontext.Branch, error) {
	if !b.Context.IsBlank(r.Property) {
		if err := r.Update(ctx, b); err != nil {
			return nil, err
		}
		return []runcontext.Branch{b}, nil
	}

	if !r.IsEnabled() {
		if r.Required {
			return nil, syncerr.Configuration("resolve "+r.Property,
				"property %q is required but has no value and no default expansion is configured", r.Property)
		}
		return []runcontext.Branch{b}, nil
	}

	candidates, err := r.Expander.ExpandDefaults(ctx, b.Context)
	if err != nil {
		return nil, syncerr.RemoteLookup("expand defaults for "+r.Property, err)
	}

	out := make([]runcontext.Branch, 0, len(candidates))
	for _, c := range candidates {
		derived := b.Context.Overlay(c.Properties)
		derived.Set(r.Property, c.Value)
		out = append(out, b.WithContext(derived).WithGenerated(r.ID()))
	}
	return out, nil
}

// Update re-applies mapped properties to b's Context in place. It does
// nothing when b was produced by this resolver's own default expansion (the
// expander already attached the mappings), when there is no mapper, or when
// the property is blank.
func (r *Resolver) Update(ctx context.Context, b runcontext.Branch) error {
	if r.Mapper == nil || b.GeneratedBy(r.ID()) || b.Context.IsBlank(r.Property) {
		return nil
	}
	value, _ := b.Context.Get(r.Property)
	props, err := r.Mapper.MapProperties(ctx, b.Context, value)
	if err != nil {
		return syncerr.RemoteLookup(fmt.Sprintf("map properties for %s=%v", r.Property, value), err)
	}
	b.Context.SetAll(props)
	return nil
}
