package runner

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/grouping"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
)

// DryRun returns a hook that logs every rendered field map instead of
// submitting it. Groups count as skipped.
func DryRun(logger *zap.Logger) grouping.MapProcessor {
	logger = logger.Named("dryrun")
	return grouping.MapProcessorFunc(func(_ context.Context, b runcontext.Branch, g schemas.Group, fields schemas.FieldMap) (bool, error) {
		logger.Info("Would submit group",
			zap.String("branch", b.Label()),
			zap.String("group", g.Key),
			zap.Strings("records", g.IDs()),
			zap.Any("fields", fields.Map()))
		return false, nil
	})
}

// LoggingUpdater is the default existing-issue updater. It reports what the
// tracker currently holds for each linked issue and changes nothing.
type LoggingUpdater struct {
	Logger *zap.Logger
}

func (u LoggingUpdater) UpdateExisting(_ context.Context, b runcontext.Branch, loc schemas.IssueLocator, fields schemas.FieldMap, records []schemas.Vulnerability) error {
	logger := u.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Existing issue",
		zap.String("branch", b.Label()),
		zap.String("issue", loc.String()),
		zap.Int("linked_records", len(records)),
		zap.Strings("fields", fields.Keys()))
	return nil
}
