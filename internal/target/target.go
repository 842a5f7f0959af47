// File: internal/target/target.go
package target

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Context keys holding the credentials used for native bug filing.
const (
	KeyBugTrackerUsername = "bugtracker.username"
	KeyBugTrackerPassword = "bugtracker.password"
)

// Kind selects the submission shape of a Target.
type Kind string

const (
	// KindNative delegates filing to the source system, which owns the
	// tracker connection and the link write-back.
	KindNative Kind = "native"
	// KindGeneric talks to the tracker directly with a rendered field map.
	KindGeneric Kind = "generic"
)

// NativeSubmitter files bugs through the source system.
type NativeSubmitter interface {
	// AuthenticationRequired reports whether the source needs tracker
	// credentials before filing for this branch.
	AuthenticationRequired(ctx context.Context, b runcontext.Branch) (bool, error)
	Authenticate(ctx context.Context, b runcontext.Branch, username, secret string) error
	// FileBug files one bug for the given source instance ids and returns the
	// issue's deep link.
	FileBug(ctx context.Context, b runcontext.Branch, fields schemas.FieldMap, instanceIDs []string) (string, error)
}

// GenericSubmitter talks to a tracker API directly.
type GenericSubmitter interface {
	SubmitIssue(ctx context.Context, b runcontext.Branch, fields schemas.FieldMap) (schemas.IssueLocator, error)
	GetIssueFields(ctx context.Context, b runcontext.Branch, locator schemas.IssueLocator) (schemas.FieldMap, error)
}

// Option configures a Target.
type Option func(*Target)

// WithFieldLimit caps the rune length of field before generic submission.
func WithFieldLimit(field string, max int) Option {
	return func(t *Target) {
		if t.limits == nil {
			t.limits = make(map[string]int)
		}
		t.limits[field] = max
	}
}

// WithLinkRecorder reports every generic submission back to the source.
func WithLinkRecorder(r schemas.LinkRecorder) Option {
	return func(t *Target) { t.links = r }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(t *Target) { t.logger = l }
}

// Target is the submission adapter. Exactly one of native and generic is set,
// chosen by the constructor.
type Target struct {
	name    string
	kind    Kind
	native  NativeSubmitter
	generic GenericSubmitter
	limits  map[string]int
	links   schemas.LinkRecorder
	logger  *zap.Logger
}

// NewNative builds a target that files through the source system.
func NewNative(name string, s NativeSubmitter, opts ...Option) *Target {
	return build(&Target{name: name, kind: KindNative, native: s}, opts)
}

// NewGeneric builds a target that submits field maps to a tracker.
func NewGeneric(name string, s GenericSubmitter, opts ...Option) *Target {
	return build(&Target{name: name, kind: KindGeneric, generic: s}, opts)
}

func build(t *Target, opts []Option) *Target {
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("target").With(zap.String("tracker", t.name))
	return t
}

func (t *Target) Name() string { return t.name }
func (t *Target) Kind() Kind   { return t.kind }

// IgnorePreviouslySubmitted is true for both shapes. Sources exclude records
// that already carry a bug link.
func (t *Target) IgnorePreviouslySubmitted() bool { return true }

// AcceptsIssueUpdater reports whether existing issues can be re-read through
// IssueFields. Native targets leave that to the source system.
func (t *Target) AcceptsIssueUpdater() bool { return t.kind == KindGeneric }

// ProcessMap submits one rendered group. It implements grouping.MapProcessor.
func (t *Target) ProcessMap(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error) {
	switch t.kind {
	case KindNative:
		return t.fileNative(ctx, b, g, fields)
	case KindGeneric:
		return t.submitGeneric(ctx, b, g, fields)
	default:
		return false, syncerr.Configuration("process map", "unknown target kind %q", t.kind)
	}
}

func (t *Target) fileNative(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error) {
	required, err := t.native.AuthenticationRequired(ctx, b)
	if err != nil {
		return false, syncerr.RemoteLookup("check bug filing requirements", err)
	}
	if required {
		user := b.Context.GetString(KeyBugTrackerUsername)
		secret := b.Context.GetString(KeyBugTrackerPassword)
		if b.Context.IsBlank(KeyBugTrackerUsername) || b.Context.IsBlank(KeyBugTrackerPassword) {
			return false, syncerr.Configuration("authenticate",
				"bug tracker credentials required: set %s and %s", KeyBugTrackerUsername, KeyBugTrackerPassword)
		}
		// Authenticate on every call; the source may expire sessions between groups.
		if err := t.native.Authenticate(ctx, b, user, secret); err != nil {
			return false, syncerr.Authentication("authenticate", err)
		}
	}

	link, err := t.native.FileBug(ctx, b, fields, g.IDs())
	if err != nil {
		return false, syncerr.Submission("file bug", err)
	}
	t.logger.Info(fmt.Sprintf("Submitted %d vulnerabilities via %s", len(g.Records), t.name),
		zap.String("group", g.Key), zap.String("deep_link", link))
	return true, nil
}

func (t *Target) submitGeneric(ctx context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error) {
	out := t.applyLimits(fields)
	loc, err := t.generic.SubmitIssue(ctx, b, out)
	if err != nil {
		return false, syncerr.Submission("submit issue", err)
	}
	t.logger.Info(fmt.Sprintf("Submitted %d vulnerabilities to %s", len(g.Records), t.name),
		zap.String("group", g.Key), zap.String("issue", loc.String()))

	if t.links != nil {
		if err := t.links.RecordLinks(ctx, b, loc, g.Records); err != nil {
			return true, syncerr.Submission("record issue link", err)
		}
	}
	return true, nil
}

// applyLimits returns a copy of fields with every limited field truncated.
// Non-string values are rendered before truncation.
func (t *Target) applyLimits(fields schemas.FieldMap) schemas.FieldMap {
	out := fields.Clone()
	for name, max := range t.limits {
		if _, ok := out.Get(name); !ok {
			continue
		}
		s := out.GetString(name)
		if cut := Truncate(s, max); cut != s {
			out.Set(name, cut)
		}
	}
	return out
}

// IssueFields re-reads an issue filed by a generic target. It implements
// schemas.IssueFieldsRetriever.
func (t *Target) IssueFields(ctx context.Context, b runcontext.Branch, locator schemas.IssueLocator) (schemas.FieldMap, error) {
	if t.kind != KindGeneric {
		return schemas.FieldMap{}, syncerr.Configuration("issue fields", "%s does not expose issue fields", t.name)
	}
	if locator.IsZero() {
		return schemas.FieldMap{}, errors.New("empty issue locator")
	}
	fields, err := t.generic.GetIssueFields(ctx, b, locator)
	if err != nil {
		return schemas.FieldMap{}, syncerr.RemoteLookup("get issue fields", err)
	}
	return fields, nil
}
