// File: internal/resolver/static.go
package resolver

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/bugsync/internal/runcontext"
)

// StaticExpander yields a fixed list of default values, each mapped through
// Table when an entry exists.
type StaticExpander struct {
	Values []string
	Table  map[string]map[string]any
}

func (s StaticExpander) ExpandDefaults(_ context.Context, _ *runcontext.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.Values))
	for _, v := range s.Values {
		out = append(out, Candidate{Value: v, Properties: copyProps(s.Table[v])})
	}
	return out, nil
}

// StaticMapper maps a property value to the properties configured for it.
// Unknown values map to nothing.
type StaticMapper struct {
	Table map[string]map[string]any
}

func (s StaticMapper) MapProperties(_ context.Context, _ *runcontext.Context, value any) (map[string]any, error) {
	return copyProps(s.Table[fmt.Sprint(value)]), nil
}

func copyProps(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
