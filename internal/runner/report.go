package runner

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/grouping"
)

// BranchReport is the outcome of one resolved branch.
type BranchReport struct {
	Tracker string
	Label   string
	Summary grouping.Summary
	// Updated and UpdateFailures count previously filed issues handed to the
	// existing-issue updater.
	Updated        int
	UpdateFailures int
	// Err is set when the branch could not be resolved or was aborted.
	Err error
}

// Failed reports whether anything in the branch failed.
func (b BranchReport) Failed() bool {
	return b.Err != nil || b.Summary.Failed() > 0 || b.UpdateFailures > 0
}

// Report collects branch outcomes, failed resolutions first, then branches in
// expansion order.
type Report struct {
	Branches []BranchReport
}

// Failed reports partial failure of the run.
func (r *Report) Failed() bool {
	for _, b := range r.Branches {
		if b.Failed() {
			return true
		}
	}
	return false
}

// Totals sums the per-branch summaries.
func (r *Report) Totals() grouping.Summary {
	var t grouping.Summary
	for _, b := range r.Branches {
		t.Groups += b.Summary.Groups
		t.Submitted += b.Summary.Submitted
		t.Skipped += b.Summary.Skipped
		t.Failures = append(t.Failures, b.Summary.Failures...)
	}
	return t
}

// Log writes one line per branch and one per failed group.
func (r *Report) Log(logger *zap.Logger) {
	for _, b := range r.Branches {
		fields := []zap.Field{
			zap.String("tracker", b.Tracker),
			zap.String("branch", b.Label),
			zap.Int("groups", b.Summary.Groups),
			zap.Int("submitted", b.Summary.Submitted),
			zap.Int("skipped", b.Summary.Skipped),
			zap.Int("failed", b.Summary.Failed()),
			zap.Int("updated", b.Updated),
		}
		switch {
		case b.Err != nil:
			logger.Error("Branch failed", append(fields, zap.Error(b.Err))...)
		case b.Failed():
			logger.Warn("Branch completed with failures", fields...)
		default:
			logger.Info("Branch completed", fields...)
		}
		for _, f := range b.Summary.Failures {
			logger.Warn("Group failed",
				zap.String("tracker", b.Tracker),
				zap.String("branch", b.Label),
				zap.String("group", f.Key),
				zap.Int("records", f.Records),
				zap.Error(f.Err))
		}
	}
}
