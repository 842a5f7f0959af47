// File: cmd/sync.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/observability"
	"github.com/xkilldash9x/bugsync/internal/service"
)

// newSyncCmd creates the `sync` command. Every known context option gets a
// flag bound to context.<key>, so flags are registered before the
// configuration selects a source and target.
func newSyncCmd(v *viper.Viper, factory service.ComponentFactory) *cobra.Command {
	var set map[string]string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Files new vulnerabilities in the configured bug tracker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize sync components: %w", err)
			}
			defer components.Shutdown()

			initial, err := service.InitialContext(cfg, components.Options, set)
			if err != nil {
				return err
			}
			logger.Info("Starting sync",
				zap.String("source", cfg.Source().Type),
				zap.String("target", cfg.Target().Type),
				zap.Bool("dry_run", cfg.Run().DryRun),
				zap.Int("parallelism", cfg.Run().Parallelism))

			report, err := components.Runner.Run(ctx, initial)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Sync aborted gracefully")
				}
				return err
			}

			totals := report.Totals()
			logger.Info("Sync finished",
				zap.Int("branches", len(report.Branches)),
				zap.Int("groups", totals.Groups),
				zap.Int("submitted", totals.Submitted),
				zap.Int("failed", totals.Failed()))
			if report.Failed() {
				failedBranches := 0
				for _, b := range report.Branches {
					if b.Err != nil {
						failedBranches++
					}
				}
				return fmt.Errorf("sync completed with failures: %d of %d branches failed, %d of %d groups failed",
					failedBranches, len(report.Branches), totals.Failed(), totals.Groups)
			}
			return nil
		},
	}

	flags := syncCmd.Flags()
	flags.Bool("dry-run", false, "render groups without submitting them")
	flags.Int("parallelism", 1, "number of branches processed concurrently")
	flags.Bool("update-existing", true, "revisit issues filed by earlier runs")
	flags.StringToStringVar(&set, "set", nil, "set a context property, as key=value")
	_ = v.BindPFlag("run.dry_run", flags.Lookup("dry-run"))
	_ = v.BindPFlag("run.parallelism", flags.Lookup("parallelism"))
	_ = v.BindPFlag("run.update_existing", flags.Lookup("update-existing"))

	for _, o := range service.AllOptions() {
		flags.String(o.FlagName(), "", o.Description)
		_ = v.BindPFlag("context."+o.Key, flags.Lookup(o.FlagName()))
	}
	return syncCmd
}
