// File: internal/grouping/processor.go
package grouping

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/expression"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// FieldTemplate names one output field and the template that renders it.
type FieldTemplate struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Template string `mapstructure:"template" yaml:"template"`
}

// Config describes how records are grouped and rendered.
type Config struct {
	// GroupTemplate computes the grouping key per record. Empty means one
	// group per record, keyed by record id.
	GroupTemplate string
	// Fields are rendered once per group, in order.
	Fields []FieldTemplate
	// AppendedFields are rendered once per record of the group and appended
	// to the field of the same name.
	AppendedFields []FieldTemplate
}

// MapProcessor consumes one rendered group. It returns true when the map
// was actually submitted.
type MapProcessor interface {
	ProcessMap(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error)
}

// MapProcessorFunc adapts a function to MapProcessor.
type MapProcessorFunc func(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error)

func (f MapProcessorFunc) ProcessMap(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error) {
	return f(ctx, b, g, fields)
}

// GroupFailure records a group that could not be rendered or submitted.
type GroupFailure struct {
	Key     string
	Records int
	Err     error
}

// Summary counts the outcome of one Process call.
type Summary struct {
	Groups    int
	Submitted int
	Skipped   int
	Failures  []GroupFailure
}

// Failed returns the number of failed groups.
func (s Summary) Failed() int { return len(s.Failures) }

type compiledField struct {
	name string
	tpl  *expression.Template
}

// Processor groups records and renders field maps. It holds only compiled
// templates, so one Processor can serve concurrent branches.
type Processor struct {
	group    *expression.Template
	fields   []compiledField
	appended []compiledField
	logger   *zap.Logger
}

// New compiles cfg. Template errors are configuration errors.
func New(engine *expression.Engine, cfg Config, logger *zap.Logger) (*Processor, error) {
	p := &Processor{logger: logger.Named("grouping")}
	if cfg.GroupTemplate != "" {
		tpl, err := engine.Compile(cfg.GroupTemplate)
		if err != nil {
			return nil, syncerr.Configuration("compile group template", "%v", err)
		}
		p.group = tpl
	}
	var err error
	if p.fields, err = compileFields(engine, cfg.Fields); err != nil {
		return nil, err
	}
	if p.appended, err = compileFields(engine, cfg.AppendedFields); err != nil {
		return nil, err
	}
	return p, nil
}

func compileFields(engine *expression.Engine, in []FieldTemplate) ([]compiledField, error) {
	out := make([]compiledField, 0, len(in))
	for _, f := range in {
		if f.Name == "" {
			return nil, syncerr.Configuration("compile fields", "field with template %q has no name", f.Template)
		}
		tpl, err := engine.Compile(f.Template)
		if err != nil {
			return nil, syncerr.Configuration("compile field "+f.Name, "%v", err)
		}
		out = append(out, compiledField{name: f.Name, tpl: tpl})
	}
	return out, nil
}

// Group buckets records by grouping key. Groups come back in the order their
// key was first seen; records keep arrival order within a group. A null,
// missing, empty or whitespace-only key forms its own group with key "".
// Stream errors abort grouping.
func (p *Processor) Group(ctx context.Context, b runcontext.Branch, records iter.Seq2[schemas.Vulnerability, error]) ([]schemas.Group, error) {
	var (
		groups []schemas.Group
		index  = make(map[string]int)
		props  = b.Context.Values()
	)
	for rec, err := range records {
		if err != nil {
			return nil, fmt.Errorf("failed to read records: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := rec.ID
		if p.group != nil {
			k, err := p.group.EvalStringMissingAsNull(map[string]any{
				expression.VarVuln: rec.Activation(),
				expression.VarCtx:  props,
			})
			if err != nil {
				return nil, syncerr.Configuration("evaluate group template", "record %s: %v", rec.ID, err)
			}
			key = k
		}
		if strings.TrimSpace(key) == "" {
			key = ""
		}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, schemas.Group{Key: key})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups, nil
}

// Render builds the field map for g. Fields see the group's first record as
// vuln; appended fields are evaluated once per record with vuln bound to
// that record and appended in record order.
func (p *Processor) Render(_ context.Context, b runcontext.Branch, g schemas.Group) (schemas.FieldMap, error) {
	var out schemas.FieldMap
	if len(g.Records) == 0 {
		return out, errors.New("cannot render an empty group")
	}

	group := make([]any, len(g.Records))
	for i, r := range g.Records {
		group[i] = r.Activation()
	}
	vars := map[string]any{
		expression.VarVuln:     group[0],
		expression.VarGroup:    group,
		expression.VarGroupKey: g.Key,
		expression.VarRecords:  len(g.Records),
		expression.VarCtx:      b.Context.Values(),
	}

	for _, f := range p.fields {
		v, err := f.tpl.Eval(vars)
		if err != nil {
			return schemas.FieldMap{}, fmt.Errorf("field %s: %w", f.name, err)
		}
		out.Set(f.name, v)
	}

	for _, rec := range group {
		recVars := make(map[string]any, len(vars))
		for k, v := range vars {
			recVars[k] = v
		}
		recVars[expression.VarVuln] = rec
		for _, f := range p.appended {
			s, err := f.tpl.EvalString(recVars)
			if err != nil {
				return schemas.FieldMap{}, fmt.Errorf("appended field %s: %w", f.name, err)
			}
			out.Append(f.name, s)
		}
	}
	return out, nil
}

// Process groups records, renders each group and hands it to hook in
// first-seen order. A failing group is recorded and skipped. A configuration,
// authentication or lookup error from the hook ends the pass with the summary
// so far, as do a record stream error and cancellation.
func (p *Processor) Process(ctx context.Context, b runcontext.Branch, records iter.Seq2[schemas.Vulnerability, error], hook MapProcessor) (Summary, error) {
	groups, err := p.Group(ctx, b, records)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Groups: len(groups)}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		fields, err := p.Render(ctx, b, g)
		if err != nil {
			s.Failures = append(s.Failures, GroupFailure{Key: g.Key, Records: len(g.Records), Err: syncerr.Submission("render group", err)})
			p.logger.Error("Failed to render group", zap.String("group", g.Key), zap.Error(err))
			continue
		}

		submitted, err := hook.ProcessMap(ctx, b, g, fields)
		if err != nil {
			s.Failures = append(s.Failures, GroupFailure{Key: g.Key, Records: len(g.Records), Err: err})
			p.logger.Error("Failed to process group", zap.String("group", g.Key), zap.Int("records", len(g.Records)), zap.Error(err))
			if branchFatal(err) {
				return s, fmt.Errorf("aborting after group %q: %w", g.Key, err)
			}
			continue
		}
		if submitted {
			s.Submitted++
		} else {
			s.Skipped++
		}
	}
	return s, nil
}

// branchFatal reports whether a hook error invalidates the rest of the
// branch. Unclassified and submission errors only fail their group.
func branchFatal(err error) bool {
	k, ok := syncerr.KindOf(err)
	return ok && k != syncerr.KindSubmission
}
