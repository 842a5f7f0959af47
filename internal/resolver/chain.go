// File: internal/resolver/chain.go
package resolver

import (
	"context"

	"github.com/xkilldash9x/bugsync/internal/runcontext"
)

// BranchFailure records a branch dropped during expansion.
type BranchFailure struct {
	// Label describes the partially resolved branch.
	Label string
	// Resolver is the property whose resolution failed.
	Resolver string
	Err      error
}

// Chain folds an ordered list of resolvers over an initial context.
//
// Order is a configuration contract: a resolver whose mapper reads another
// property must come after the resolver that owns that property.
type Chain struct {
	resolvers []*Resolver
}

// NewChain creates a chain. nil resolvers are skipped.
func NewChain(resolvers ...*Resolver) *Chain {
	c := &Chain{}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// Resolvers returns the chain's resolvers in order.
func (c *Chain) Resolvers() []*Resolver {
	out := make([]*Resolver, len(c.resolvers))
	copy(out, c.resolvers)
	return out
}

// Expand resolves initial into one branch per surviving combination of
// default candidates, in expansion order. A branch whose resolution fails is
// dropped and reported, and its siblings carry on. Expansion stops early only
// when ctx is done; the failures gathered so far are returned with ctx.Err()
// appended.
func (c *Chain) Expand(ctx context.Context, initial *runcontext.Context) ([]runcontext.Branch, []BranchFailure) {
	current := []runcontext.Branch{runcontext.NewBranch(initial)}
	var failures []BranchFailure

	for _, r := range c.resolvers {
		next := make([]runcontext.Branch, 0, len(current))
		for _, b := range current {
			if err := ctx.Err(); err != nil {
				return nil, append(failures, BranchFailure{Label: b.Label(), Resolver: r.ID(), Err: err})
			}
			resolved, err := r.Resolve(ctx, b)
			if err != nil {
				failures = append(failures, BranchFailure{Label: b.Label(), Resolver: r.ID(), Err: err})
				continue
			}
			next = append(next, resolved...)
		}
		current = next
	}
	return current, failures
}

// Update runs every resolver's Update on b in chain order.
func (c *Chain) Update(ctx context.Context, b runcontext.Branch) error {
	for _, r := range c.resolvers {
		if err := r.Update(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
