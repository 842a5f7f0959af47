package schemas

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldMap(t *testing.T) {
	t.Run("should keep insertion order and position on overwrite", func(t *testing.T) {
		m := NewFieldMap("title", "a", "body", "b")
		m.Set("severity", 3)
		m.Set("title", "c")

		assert.Equal(t, []string{"title", "body", "severity"}, m.Keys())
		assert.Equal(t, "c", m.GetString("title"))
		assert.Equal(t, "3", m.GetString("severity"))
		assert.Equal(t, 3, m.Len())
	})

	t.Run("should append to existing and missing keys", func(t *testing.T) {
		var m FieldMap
		m.Append("body", "line1\n")
		m.Append("body", "line2\n")
		assert.Equal(t, "line1\nline2\n", m.GetString("body"))
	})

	t.Run("should marshal in insertion order", func(t *testing.T) {
		m := NewFieldMap("z", 1, "a", "x\"y", "m", []string{"l1"})
		out, err := m.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, `{"z":1,"a":"x\"y","m":["l1"]}`, string(out))
	})

	t.Run("clone should be independent and equal", func(t *testing.T) {
		m := NewFieldMap("title", "a")
		c := m.Clone()
		assert.True(t, m.Equal(c))
		if diff := cmp.Diff(m, c); diff != "" {
			t.Errorf("clone differs (-orig +clone):\n%s", diff)
		}

		c.Set("title", "b")
		assert.Equal(t, "a", m.GetString("title"))
		assert.False(t, m.Equal(c))
	})

	t.Run("equal should respect order", func(t *testing.T) {
		a := NewFieldMap("x", 1, "y", 2)
		b := NewFieldMap("y", 2, "x", 1)
		assert.False(t, a.Equal(b))
		assert.Equal(t, a.Map(), b.Map())
	})
}

func TestVulnerabilityActivation(t *testing.T) {
	v := Vulnerability{ID: "i-1", BugLink: "https://tracker/1", Attributes: map[string]any{"category": "SQL Injection", "id": "shadowed"}}
	act := v.Activation()
	assert.Equal(t, "i-1", act["id"])
	assert.Equal(t, "https://tracker/1", act["bugLink"])
	assert.Equal(t, "SQL Injection", act["category"])
	assert.Equal(t, "shadowed", v.Attributes["id"], "attributes must not be mutated")
}

func TestGroupIDs(t *testing.T) {
	g := Group{Key: "CWE-89", Records: []Vulnerability{{ID: "1"}, {ID: "3"}}}
	assert.Equal(t, []string{"1", "3"}, g.IDs())
}

func TestIssueLocatorString(t *testing.T) {
	assert.Equal(t, "https://dev.azure.com/c/p/_workitems/edit/7",
		IssueLocator{ID: "7", DeepLink: "https://dev.azure.com/c/p/_workitems/edit/7"}.String())
	assert.Equal(t, "7;collection=c;project=p",
		IssueLocator{ID: "7", Scope: map[string]string{"project": "p", "collection": "c"}}.String())
	assert.Equal(t, "7", IssueLocator{ID: "7"}.String())
	assert.True(t, IssueLocator{}.IsZero())
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		in   string
		want IssueLocator
	}{
		{"", IssueLocator{}},
		{"7", IssueLocator{ID: "7"}},
		{"7;collection=c;project=p", IssueLocator{ID: "7", Scope: map[string]string{"collection": "c", "project": "p"}}},
		{"https://dev.azure.com/c/p/_workitems/edit/7", IssueLocator{ID: "7", DeepLink: "https://dev.azure.com/c/p/_workitems/edit/7"}},
		{"https://github.com/acme/app/issues/17/?x=1", IssueLocator{ID: "17", DeepLink: "https://github.com/acme/app/issues/17/?x=1"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLocator(tt.in))
		})
	}

	loc := IssueLocator{ID: "9", Scope: map[string]string{"owner": "acme", "repo": "app"}}
	assert.Equal(t, loc, ParseLocator(loc.String()))
}
