// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"iter"

	"github.com/xkilldash9x/bugsync/internal/runcontext"
)

// RecordQuery narrows what a RecordSource streams for a branch.
type RecordQuery struct {
	// ExcludeSubmitted drops records already linked to a tracker issue.
	ExcludeSubmitted bool
}

// RecordSource streams the vulnerabilities for a resolved branch, already
// filtered to the tracker that branch targets. The sequence is lazy, finite
// and may only be ranged over once. An error ends the sequence.
type RecordSource interface {
	Records(ctx context.Context, b runcontext.Branch, q RecordQuery) iter.Seq2[Vulnerability, error]
}

// LinkedRecordSource is implemented by sources that can stream the records
// previously linked to a tracker issue, with BugLink set.
type LinkedRecordSource interface {
	LinkedRecords(ctx context.Context, b runcontext.Branch) iter.Seq2[Vulnerability, error]
}

// LinkRecorder stores a new issue's locator on the source records it was
// filed for, so later runs can exclude them and look the issue up again.
type LinkRecorder interface {
	RecordLinks(ctx context.Context, b runcontext.Branch, locator IssueLocator, records []Vulnerability) error
}

// IssueFieldsRetriever re-reads the current fields of a filed issue.
type IssueFieldsRetriever interface {
	IssueFields(ctx context.Context, b runcontext.Branch, locator IssueLocator) (FieldMap, error)
}

// ExistingIssueUpdater decides what to do with a previously filed issue,
// given its current tracker fields and the records linked to it.
type ExistingIssueUpdater interface {
	UpdateExisting(ctx context.Context, b runcontext.Branch, locator IssueLocator, fields FieldMap, records []Vulnerability) error
}
