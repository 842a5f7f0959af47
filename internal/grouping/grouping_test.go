package grouping

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/expression"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

func records(recs ...schemas.Vulnerability) iter.Seq2[schemas.Vulnerability, error] {
	return func(yield func(schemas.Vulnerability, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func vuln(id, cwe string) schemas.Vulnerability {
	return schemas.Vulnerability{ID: id, Attributes: map[string]any{"cwe": cwe, "file": "src/" + id + ".go"}}
}

func newProcessor(t *testing.T, cfg Config) (*Processor, *observer.ObservedLogs) {
	t.Helper()
	engine, err := expression.NewEngine()
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)
	p, err := New(engine, cfg, zap.New(core))
	require.NoError(t, err)
	return p, logs
}

func branch(props map[string]any) runcontext.Branch {
	return runcontext.NewBranch(runcontext.New(props))
}

func TestGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("should group by key in first-seen order", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.cwe}"})
		groups, err := p.Group(ctx, branch(nil), records(
			vuln("1", "CWE-89"), vuln("2", "CWE-79"), vuln("3", "CWE-89"), vuln("4", "CWE-79"), vuln("5", "CWE-89"),
		))
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "CWE-89", groups[0].Key)
		assert.Equal(t, []string{"1", "3", "5"}, groups[0].IDs())
		assert.Equal(t, "CWE-79", groups[1].Key)
		assert.Equal(t, []string{"2", "4"}, groups[1].IDs())
	})

	t.Run("should make one group per record without a group template", func(t *testing.T) {
		p, _ := newProcessor(t, Config{})
		groups, err := p.Group(ctx, branch(nil), records(vuln("a", "x"), vuln("b", "x")))
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "a", groups[0].Key)
		assert.Equal(t, "b", groups[1].Key)
	})

	t.Run("should put blank keys into their own group", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.cwe}"})
		blank := schemas.Vulnerability{ID: "3", Attributes: map[string]any{"cwe": nil}}
		groups, err := p.Group(ctx, branch(nil), records(vuln("1", "CWE-89"), vuln("2", ""), blank))
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "", groups[1].Key)
		assert.Equal(t, []string{"2", "3"}, groups[1].IDs())
	})

	t.Run("should see context properties", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${ctx.projectName}-${vuln.cwe}"})
		groups, err := p.Group(ctx, branch(map[string]any{"projectName": "Alpha"}), records(vuln("1", "CWE-89")))
		require.NoError(t, err)
		assert.Equal(t, "Alpha-CWE-89", groups[0].Key)
	})

	t.Run("should abort on a stream error", func(t *testing.T) {
		p, _ := newProcessor(t, Config{})
		boom := errors.New("connection reset")
		seq := func(yield func(schemas.Vulnerability, error) bool) {
			if !yield(vuln("1", "x"), nil) {
				return
			}
			yield(schemas.Vulnerability{}, boom)
		}
		_, err := p.Group(ctx, branch(nil), seq)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should treat a missing attribute as a null key", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.cwe}"})
		noCWE := schemas.Vulnerability{ID: "2", Attributes: map[string]any{"file": "src/2.go"}}
		groups, err := p.Group(ctx, branch(nil), records(vuln("1", "CWE-89"), noCWE, vuln("3", "CWE-79")))
		require.NoError(t, err)
		require.Len(t, groups, 3)
		assert.Equal(t, "CWE-89", groups[0].Key)
		assert.Equal(t, "", groups[1].Key)
		assert.Equal(t, []string{"2"}, groups[1].IDs())
		assert.Equal(t, "CWE-79", groups[2].Key)
	})

	t.Run("should blank a missing part of a composite key", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.file}|${vuln.cwe}"})
		noCWE := schemas.Vulnerability{ID: "1", Attributes: map[string]any{"file": "a.go"}}
		groups, err := p.Group(ctx, branch(nil), records(noCWE))
		require.NoError(t, err)
		assert.Equal(t, "a.go|", groups[0].Key)
	})

	t.Run("should fold whitespace-only keys into the blank group", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.cwe}"})
		groups, err := p.Group(ctx, branch(nil), records(vuln("1", "  "), vuln("2", ""), vuln("3", "CWE-89")))
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "", groups[0].Key)
		assert.Equal(t, []string{"1", "2"}, groups[0].IDs())
	})

	t.Run("should report evaluation failures as configuration errors", func(t *testing.T) {
		p, _ := newProcessor(t, Config{GroupTemplate: "${vuln.cwe + 1}"})
		_, err := p.Group(ctx, branch(nil), records(vuln("1", "x")))
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
	})
}

func TestNew(t *testing.T) {
	engine, err := expression.NewEngine()
	require.NoError(t, err)

	t.Run("should reject invalid templates", func(t *testing.T) {
		_, err := New(engine, Config{Fields: []FieldTemplate{{Name: "title", Template: "${vuln.}"}}}, zap.NewNop())
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))

		_, err = New(engine, Config{GroupTemplate: "${"}, zap.NewNop())
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
	})

	t.Run("should reject unnamed fields", func(t *testing.T) {
		_, err := New(engine, Config{AppendedFields: []FieldTemplate{{Template: "x"}}}, zap.NewNop())
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
	})
}

func TestRender(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		GroupTemplate: "${vuln.cwe}",
		Fields: []FieldTemplate{
			{Name: "title", Template: "[${ctx.projectName}] ${groupKey} (${records})"},
			{Name: "count", Template: "${size(group)}"},
			{Name: "body", Template: "Findings:\n"},
		},
		AppendedFields: []FieldTemplate{
			{Name: "body", Template: "- ${vuln.file}\n"},
			{Name: "ids", Template: "${vuln.id};"},
		},
	}
	p, _ := newProcessor(t, cfg)
	b := branch(map[string]any{"projectName": "Alpha"})
	g := schemas.Group{Key: "CWE-89", Records: []schemas.Vulnerability{vuln("1", "CWE-89"), vuln("3", "CWE-89")}}

	t.Run("should render fields in order and append per record", func(t *testing.T) {
		fields, err := p.Render(ctx, b, g)
		require.NoError(t, err)
		assert.Equal(t, []string{"title", "count", "body", "ids"}, fields.Keys())
		assert.Equal(t, "[Alpha] CWE-89 (2)", fields.GetString("title"))
		assert.Equal(t, int64(2), mustGet(t, fields, "count"))
		assert.Equal(t, "Findings:\n- src/1.go\n- src/3.go\n", fields.GetString("body"))
		assert.Equal(t, "1;3;", fields.GetString("ids"))
	})

	t.Run("should be idempotent", func(t *testing.T) {
		first, err := p.Render(ctx, b, g)
		require.NoError(t, err)
		second, err := p.Render(ctx, b, g)
		require.NoError(t, err)
		assert.True(t, first.Equal(second))
	})

	t.Run("should refuse empty groups", func(t *testing.T) {
		_, err := p.Render(ctx, b, schemas.Group{Key: "x"})
		assert.Error(t, err)
	})
}

func mustGet(t *testing.T, m schemas.FieldMap, key string) any {
	t.Helper()
	v, ok := m.Get(key)
	require.True(t, ok, "missing field %s", key)
	return v
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		GroupTemplate: "${vuln.cwe}",
		Fields:        []FieldTemplate{{Name: "title", Template: "${groupKey}"}},
	}

	t.Run("should hand each group to the hook once in order", func(t *testing.T) {
		p, _ := newProcessor(t, cfg)
		var seen []string
		var sizes []int
		hook := MapProcessorFunc(func(_ context.Context, _ runcontext.Branch, g schemas.Group, f schemas.FieldMap) (bool, error) {
			seen = append(seen, f.GetString("title"))
			sizes = append(sizes, len(g.Records))
			return true, nil
		})
		sum, err := p.Process(ctx, branch(nil), records(
			vuln("1", "CWE-89"), vuln("2", "CWE-79"), vuln("3", "CWE-89"), vuln("4", "CWE-79"), vuln("5", "CWE-89"),
		), hook)
		require.NoError(t, err)
		assert.Equal(t, []string{"CWE-89", "CWE-79"}, seen)
		assert.Equal(t, []int{3, 2}, sizes)
		assert.Equal(t, Summary{Groups: 2, Submitted: 2}, sum)
	})

	t.Run("should keep sibling groups when a record lacks the group attribute", func(t *testing.T) {
		p, _ := newProcessor(t, cfg)
		var seen []string
		hook := MapProcessorFunc(func(_ context.Context, _ runcontext.Branch, g schemas.Group, _ schemas.FieldMap) (bool, error) {
			seen = append(seen, g.Key)
			return true, nil
		})
		noCWE := schemas.Vulnerability{ID: "2", Attributes: map[string]any{"file": "src/2.go"}}
		sum, err := p.Process(ctx, branch(nil), records(vuln("1", "CWE-89"), noCWE, vuln("3", "CWE-79")), hook)
		require.NoError(t, err)
		assert.Equal(t, []string{"CWE-89", "", "CWE-79"}, seen)
		assert.Equal(t, Summary{Groups: 3, Submitted: 3}, sum)
	})

	t.Run("should continue past a failing group", func(t *testing.T) {
		p, logs := newProcessor(t, cfg)
		hook := MapProcessorFunc(func(_ context.Context, _ runcontext.Branch, g schemas.Group, _ schemas.FieldMap) (bool, error) {
			switch g.Key {
			case "CWE-79":
				return false, syncerr.Submission("submit", errors.New("tracker returned 500"))
			case "CWE-22":
				return false, nil
			}
			return true, nil
		})
		sum, err := p.Process(ctx, branch(nil), records(vuln("1", "CWE-89"), vuln("2", "CWE-79"), vuln("3", "CWE-22")), hook)
		require.NoError(t, err)
		assert.Equal(t, 3, sum.Groups)
		assert.Equal(t, 1, sum.Submitted)
		assert.Equal(t, 1, sum.Skipped)
		require.Equal(t, 1, sum.Failed())
		assert.Equal(t, "CWE-79", sum.Failures[0].Key)
		assert.True(t, syncerr.Is(sum.Failures[0].Err, syncerr.KindSubmission))
		assert.Equal(t, 1, logs.FilterMessage("Failed to process group").Len())
	})

	t.Run("should stop the branch on a credentials error", func(t *testing.T) {
		p, _ := newProcessor(t, cfg)
		calls := 0
		hook := MapProcessorFunc(func(context.Context, runcontext.Branch, schemas.Group, schemas.FieldMap) (bool, error) {
			calls++
			return false, syncerr.Configuration("authenticate", "bug tracker credentials required")
		})
		sum, err := p.Process(ctx, branch(nil), records(vuln("1", "CWE-89"), vuln("2", "CWE-79")), hook)
		require.Error(t, err)
		assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
		assert.Equal(t, 1, calls)
		assert.Equal(t, 2, sum.Groups)
		assert.Equal(t, 1, sum.Failed())
	})

	t.Run("should record render failures as submission errors", func(t *testing.T) {
		p, _ := newProcessor(t, Config{Fields: []FieldTemplate{{Name: "title", Template: "${vuln.title}"}}})
		called := 0
		hook := MapProcessorFunc(func(context.Context, runcontext.Branch, schemas.Group, schemas.FieldMap) (bool, error) {
			called++
			return true, nil
		})
		ok := schemas.Vulnerability{ID: "1", Attributes: map[string]any{"title": "t"}}
		bad := schemas.Vulnerability{ID: "2"}
		sum, err := p.Process(ctx, branch(nil), records(ok, bad), hook)
		require.NoError(t, err)
		assert.Equal(t, 1, called)
		require.Len(t, sum.Failures, 1)
		assert.Equal(t, "2", sum.Failures[0].Key)
		assert.True(t, syncerr.Is(sum.Failures[0].Err, syncerr.KindSubmission))
	})

	t.Run("should stop on cancellation", func(t *testing.T) {
		p, _ := newProcessor(t, cfg)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Process(cctx, branch(nil), records(vuln("1", "x")), MapProcessorFunc(
			func(context.Context, runcontext.Branch, schemas.Group, schemas.FieldMap) (bool, error) {
				t.Fatal("hook must not run")
				return false, nil
			}))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
