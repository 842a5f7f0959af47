// File: internal/expression/engine.go
package expression

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// Variable names available to templates.
const (
	VarVuln     = "vuln"     // current record (map)
	VarGroup    = "group"    // all records of the group (list of maps)
	VarGroupKey = "groupKey" // grouping key of the group (string)
	VarRecords  = "records"  // number of records in the group (int)
	VarCtx      = "ctx"      // branch context properties (map)
)

// Engine compiles templates against a fixed CEL environment. It is safe for
// concurrent use once built; compiled programs are read-only.
type Engine struct {
	env *cel.Env
}

// NewEngine builds the CEL environment with the template variables and the
// strings extension library.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarVuln, cel.DynType),
		cel.Variable(VarGroup, cel.DynType),
		cel.Variable(VarGroupKey, cel.StringType),
		cel.Variable(VarRecords, cel.IntType),
		cel.Variable(VarCtx, cel.DynType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses src into a Template. Text outside ${...} is literal; each
// ${...} holds one CEL expression. "$${" yields a literal "${".
func (e *Engine) Compile(src string) (*Template, error) {
	segs, err := split(src)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", src, err)
	}
	t := &Template{source: src}
	for _, s := range segs {
		if !s.expr {
			t.parts = append(t.parts, part{literal: s.text})
			continue
		}
		ast, iss := e.env.Compile(s.text)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("invalid expression %q in template %q: %w", s.text, src, iss.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to plan expression %q: %w", s.text, err)
		}
		t.parts = append(t.parts, part{program: prg, expr: s.text})
	}
	return t, nil
}

// Template is a compiled template.
type Template struct {
	source string
	parts  []part
}

type part struct {
	literal string
	expr    string
	program cel.Program
}

// Source returns the original template text.
func (t *Template) Source() string { return t.source }

// Eval evaluates the template. A template made of exactly one expression
// returns that expression's typed value (nil for CEL null); anything else
// renders to a string.
func (t *Template) Eval(vars map[string]any) (any, error) {
	if len(t.parts) == 1 && t.parts[0].program != nil {
		return t.parts[0].eval(vars)
	}
	return t.EvalString(vars)
}

// EvalString evaluates the template and renders the result as a string. nil
// values render as "".
func (t *Template) EvalString(vars map[string]any) (string, error) {
	return t.render(vars, false)
}

// EvalStringMissingAsNull is EvalString, except that an expression selecting
// a key or attribute its operand lacks evaluates to null and renders as "".
func (t *Template) EvalStringMissingAsNull(vars map[string]any) (string, error) {
	return t.render(vars, true)
}

func (t *Template) render(vars map[string]any, missingAsNull bool) (string, error) {
	var sb strings.Builder
	for _, p := range t.parts {
		if p.program == nil {
			sb.WriteString(p.literal)
			continue
		}
		v, err := p.eval(vars)
		if err != nil {
			if missingAsNull && IsMissingKey(err) {
				continue
			}
			return "", err
		}
		sb.WriteString(Stringify(v))
	}
	return sb.String(), nil
}

// IsMissingKey reports whether err is CEL's "no such key" or "no such
// attribute" evaluation error. CEL exposes these only as messages.
func IsMissingKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such key") || strings.Contains(msg, "no such attribute")
}

func (p part) eval(vars map[string]any) (any, error) {
	out, _, err := p.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", p.expr, err)
	}
	return toNative(out), nil
}

// Stringify renders an evaluated value the way templates embed it.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

func toNative(v ref.Val) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(types.Null); ok {
		return nil
	}
	if l, ok := v.(traits.Lister); ok {
		n, _ := l.Size().(types.Int)
		out := make([]any, 0, int(n))
		for i := types.Int(0); i < n; i++ {
			out = append(out, toNative(l.Get(i)))
		}
		return out
	}
	return v.Value()
}
