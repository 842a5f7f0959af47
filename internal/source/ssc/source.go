// File: internal/source/ssc/source.go
package ssc

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// OptIssueFilter overrides the configured SSC issue search query per run.
const OptIssueFilter = "ssc.issue_filter"

// Source reads issues of the branch's application version from SSC and
// writes bug links back to them.
type Source struct {
	factory     *ConnectionFactory
	issueFilter string
	logger      *zap.Logger
}

// NewSource creates an SSC source. issueFilter is the default search query
// applied to every branch; the ssc.issue_filter option overrides it.
func NewSource(f *ConnectionFactory, issueFilter string, logger *zap.Logger) *Source {
	return &Source{factory: f, issueFilter: issueFilter, logger: logger.Named("ssc.source")}
}

// Options returns the source's own context options.
func (s *Source) Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: KeyApplicationVersionID, Description: "SSC application version id; every matching version is processed when omitted"},
		{Key: OptIssueFilter, Description: "SSC issue search query, for example [analysis type]:SCA"},
	}
}

// Records implements schemas.RecordSource.
func (s *Source) Records(ctx context.Context, b runcontext.Branch, q schemas.RecordQuery) iter.Seq2[schemas.Vulnerability, error] {
	var linked *bool
	if q.ExcludeSubmitted {
		f := false
		linked = &f
	}
	return s.stream(ctx, b, linked)
}

// LinkedRecords implements schemas.LinkedRecordSource.
func (s *Source) LinkedRecords(ctx context.Context, b runcontext.Branch) iter.Seq2[schemas.Vulnerability, error] {
	t := true
	return s.stream(ctx, b, &t)
}

func (s *Source) stream(ctx context.Context, b runcontext.Branch, linked *bool) iter.Seq2[schemas.Vulnerability, error] {
	return func(yield func(schemas.Vulnerability, error) bool) {
		versionID, client, err := s.connect(b)
		if err != nil {
			yield(schemas.Vulnerability{}, err)
			return
		}
		filter := s.issueFilter
		if !b.Context.IsBlank(OptIssueFilter) {
			filter = b.Context.GetString(OptIssueFilter)
		}

		n := 0
		for issue, err := range client.Issues(ctx, versionID, IssueQuery{Filter: filter, Linked: linked}) {
			if err != nil {
				yield(schemas.Vulnerability{}, syncerr.RemoteLookup("list issues", err))
				return
			}
			n++
			if !yield(toVulnerability(issue), nil) {
				return
			}
		}
		s.logger.Debug("Streamed issues", zap.String("application_version_id", versionID), zap.Int("issues", n))
	}
}

// RecordLinks implements schemas.LinkRecorder by setting the bug URL of the
// records' issues.
func (s *Source) RecordLinks(ctx context.Context, b runcontext.Branch, locator schemas.IssueLocator, records []schemas.Vulnerability) error {
	versionID, client, err := s.connect(b)
	if err != nil {
		return err
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return client.UpdateBugLink(ctx, versionID, ids, locator.String())
}

func (s *Source) connect(b runcontext.Branch) (string, *Client, error) {
	if b.Context.IsBlank(KeyApplicationVersionID) {
		return "", nil, syncerr.Configuration("ssc source", "%s is not resolved for branch %s", KeyApplicationVersionID, b.Label())
	}
	client, err := s.factory.Client(b.Context)
	if err != nil {
		return "", nil, err
	}
	return b.Context.GetString(KeyApplicationVersionID), client, nil
}

func toVulnerability(issue Issue) schemas.Vulnerability {
	return schemas.Vulnerability{
		ID:         issue.InstanceID(),
		Attributes: map[string]any(issue),
		BugLink:    issue.BugURL(),
	}
}
