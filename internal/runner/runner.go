// File: internal/runner/runner.go
// Description: Drives one sync run. The initial context is expanded into
// branches, and each branch is streamed, grouped and submitted on its own.

package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/grouping"
	"github.com/xkilldash9x/bugsync/internal/resolver"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/target"
)

// Runner is injected with fully configured components. Hook and Updater are
// optional: Hook defaults to Target, and without an Updater previously filed
// issues are not revisited.
type Runner struct {
	Chain     *resolver.Chain
	Source    schemas.RecordSource
	Processor *grouping.Processor
	Target    *target.Target
	// Hook replaces Target as the consumer of rendered groups, for dry runs.
	Hook    grouping.MapProcessor
	Updater schemas.ExistingIssueUpdater
	// Parallelism bounds how many branches run at once. Values below 2 run
	// branches one after another.
	Parallelism int
	Logger      *zap.Logger
}

// Validate checks that the mandatory components are present.
func (r *Runner) Validate() error {
	if r.Chain == nil || r.Source == nil || r.Processor == nil || r.Target == nil {
		return errors.New("runner requires a chain, a source, a processor and a target")
	}
	return nil
}

// Run expands initial and processes every branch. Branch failures are
// reported, never returned. The error is non-nil for a runner missing
// components, or when ctx ends the run early, in which case the partial
// report is returned with it.
func (r *Runner) Run(ctx context.Context, initial *runcontext.Context) (*Report, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("runner").With(zap.String("run_id", uuid.NewString()))
	logger.Info("Starting sync run", zap.String("tracker", r.Target.Name()), zap.Int("parallelism", r.Parallelism))

	branches, failures := r.Chain.Expand(ctx, initial)
	report := &Report{Branches: make([]BranchReport, 0, len(failures)+len(branches))}
	for _, f := range failures {
		logger.Error("Failed to resolve branch", zap.String("branch", f.Label), zap.String("resolver", f.Resolver), zap.Error(f.Err))
		report.Branches = append(report.Branches, BranchReport{
			Tracker: r.Target.Name(),
			Label:   f.Label,
			Err:     fmt.Errorf("resolve %s: %w", f.Resolver, f.Err),
		})
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.Info("Resolved branches", zap.Int("branches", len(branches)), zap.Int("failed", len(failures)))

	results := make([]BranchReport, len(branches))
	if r.Parallelism > 1 {
		var g errgroup.Group
		g.SetLimit(r.Parallelism)
		for i, b := range branches {
			g.Go(func() error {
				results[i] = r.runBranch(ctx, b, logger)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, b := range branches {
			results[i] = r.runBranch(ctx, b, logger)
		}
	}
	report.Branches = append(report.Branches, results...)

	report.Log(logger)
	return report, ctx.Err()
}

func (r *Runner) runBranch(ctx context.Context, b runcontext.Branch, logger *zap.Logger) BranchReport {
	br := BranchReport{Tracker: r.Target.Name(), Label: b.Label()}
	if err := ctx.Err(); err != nil {
		br.Err = err
		return br
	}
	logger = logger.With(zap.String("branch", br.Label))

	if r.Updater != nil && r.Target.AcceptsIssueUpdater() {
		if linked, ok := r.Source.(schemas.LinkedRecordSource); ok {
			br.Updated, br.UpdateFailures = r.updateExisting(ctx, b, linked, logger)
		}
	}

	hook := r.Hook
	if hook == nil {
		hook = r.Target
	}
	records := r.Source.Records(ctx, b, schemas.RecordQuery{ExcludeSubmitted: r.Target.IgnorePreviouslySubmitted()})
	br.Summary, br.Err = r.Processor.Process(ctx, b, records, hook)
	if br.Err != nil {
		logger.Error("Branch aborted", zap.Error(br.Err))
	}
	return br
}

// updateExisting hands every previously filed issue of the branch, with its
// current tracker fields, to the updater.
func (r *Runner) updateExisting(ctx context.Context, b runcontext.Branch, src schemas.LinkedRecordSource, logger *zap.Logger) (updated, failed int) {
	var order []string
	byLink := make(map[string][]schemas.Vulnerability)
	for rec, err := range src.LinkedRecords(ctx, b) {
		if err != nil {
			logger.Error("Failed to read linked records", zap.Error(err))
			return updated, failed + 1
		}
		if rec.BugLink == "" {
			continue
		}
		if _, ok := byLink[rec.BugLink]; !ok {
			order = append(order, rec.BugLink)
		}
		byLink[rec.BugLink] = append(byLink[rec.BugLink], rec)
	}

	for _, link := range order {
		if ctx.Err() != nil {
			return updated, failed
		}
		loc := schemas.ParseLocator(link)
		fields, err := r.Target.IssueFields(ctx, b, loc)
		if err == nil {
			err = r.Updater.UpdateExisting(ctx, b, loc, fields, byLink[link])
		}
		if err != nil {
			failed++
			logger.Warn("Failed to update existing issue", zap.String("issue", link), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, failed
}
