// File: api/schemas/records.go
package schemas

import (
	"sort"
	"strings"
)

// Vulnerability is one finding as delivered by a source system. The core
// only relies on ID; everything else is reached through expressions.
type Vulnerability struct {
	// ID is the stable instance identifier in the source system.
	ID string `json:"id"`
	// Attributes holds the source's scalar fields (category, severity, file, ...).
	Attributes map[string]any `json:"attributes,omitempty"`
	// BugLink is the textual locator of an issue this record was already
	// filed under. Empty if never submitted.
	BugLink string `json:"bug_link,omitempty"`
}

// Activation returns the record as an expression variable: its attributes
// plus "id" and "bugLink". Attributes named like those keys are shadowed.
func (v Vulnerability) Activation() map[string]any {
	out := make(map[string]any, len(v.Attributes)+2)
	for k, val := range v.Attributes {
		out[k] = val
	}
	out["id"] = v.ID
	out["bugLink"] = v.BugLink
	return out
}

// Group is a bucket of records sharing a computed grouping key, in arrival order.
type Group struct {
	Key     string          `json:"key"`
	Records []Vulnerability `json:"records"`
}

// IDs returns the instance ids of the group's records, in order.
func (g Group) IDs() []string {
	ids := make([]string, len(g.Records))
	for i, r := range g.Records {
		ids[i] = r.ID
	}
	return ids
}

// IssueLocator identifies an issue filed in a target tracker well enough to
// fetch it again later.
type IssueLocator struct {
	// ID is the tracker's own identifier (work item id, issue number).
	ID string `json:"id"`
	// DeepLink is a browsable URL for the issue, when the tracker returns one.
	DeepLink string `json:"deep_link,omitempty"`
	// Scope carries the tracker coordinates needed next to ID
	// (collection and project, owner and repo).
	Scope map[string]string `json:"scope,omitempty"`
}

// String renders the locator in the form written back to sources: the deep
// link when known, otherwise "id" followed by scope pairs in key order.
func (l IssueLocator) String() string {
	if l.DeepLink != "" {
		return l.DeepLink
	}
	if len(l.Scope) == 0 {
		return l.ID
	}
	keys := make([]string, 0, len(l.Scope))
	for k := range l.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(l.ID)
	for _, k := range keys {
		sb.WriteString(";")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(l.Scope[k])
	}
	return sb.String()
}

// IsZero reports whether the locator is empty.
func (l IssueLocator) IsZero() bool {
	return l.ID == "" && l.DeepLink == ""
}

// ParseLocator reverses String. A URL becomes a DeepLink whose last path
// segment is taken as the ID; the "id;key=value" form restores the scope.
func ParseLocator(s string) IssueLocator {
	s = strings.TrimSpace(s)
	if s == "" {
		return IssueLocator{}
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		path := s
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		path = strings.TrimRight(path, "/")
		return IssueLocator{ID: path[strings.LastIndex(path, "/")+1:], DeepLink: s}
	}
	parts := strings.Split(s, ";")
	loc := IssueLocator{ID: parts[0]}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		if loc.Scope == nil {
			loc.Scope = make(map[string]string)
		}
		loc.Scope[k] = v
	}
	return loc
}
