// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/source/findingsdb"
	sscsrc "github.com/xkilldash9x/bugsync/internal/source/ssc"
	"github.com/xkilldash9x/bugsync/internal/target/github"
	ssctarget "github.com/xkilldash9x/bugsync/internal/target/ssc"
	"github.com/xkilldash9x/bugsync/internal/target/tfs"
)

// InitializeDBPool connects to the findings database and verifies the connection.
func InitializeDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check BUGSYNC_SOURCE_DATABASE_URL)")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Database connection pool initialized.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// Options returns the context options of the configured source, target and
// static resolvers. Nothing is contacted.
func Options(cfg config.Interface) []config.OptionDefinition {
	var sets [][]config.OptionDefinition
	sc := cfg.Source().SSC
	switch cfg.Source().Type {
	case config.SourceSSC:
		conns := sscsrc.NewConnectionFactory(sc, zap.NewNop())
		sets = append(sets, conns.Options(), sscsrc.NewSource(conns, sc.IssueFilter, zap.NewNop()).Options())
	case config.SourceFindingsDB:
		sets = append(sets, findingsdb.Options())
	}

	tc := cfg.Target()
	switch tc.Type {
	case config.TargetSSC:
		sets = append(sets, ssctarget.NewSubmitter(sscsrc.NewConnectionFactory(sc, zap.NewNop()), zap.NewNop()).Options())
	case config.TargetTFS:
		sets = append(sets, tfs.NewSubmitter(tfs.NewConnectionFactory(tc.TFS, zap.NewNop()), zap.NewNop()).Options())
	case config.TargetGitHub:
		sets = append(sets, github.NewSubmitter(tc.GitHub, zap.NewNop()).Options())
	}

	var static []config.OptionDefinition
	for _, s := range cfg.Resolvers().Static {
		static = append(static, config.OptionDefinition{Key: s.Property, Description: "Resolver property " + s.Property})
	}
	return config.MergeOptions(append(sets, static)...)
}

// AllOptions returns the options of every source and target type, for
// registering CLI flags before the configuration is known.
func AllOptions() []config.OptionDefinition {
	var sets [][]config.OptionDefinition
	for _, src := range []string{config.SourceSSC, config.SourceFindingsDB} {
		for _, tgt := range []string{config.TargetSSC, config.TargetTFS, config.TargetGitHub} {
			cfg := config.NewDefaultConfig()
			cfg.SourceCfg.Type = src
			cfg.TargetCfg.Type = tgt
			sets = append(sets, Options(cfg))
		}
	}
	return config.MergeOptions(sets...)
}

// InitialContext reads every option's configured value, applies the extra
// properties on top and checks required and secret options.
func InitialContext(cfg config.Interface, defs []config.OptionDefinition, extra map[string]string) (*runcontext.Context, error) {
	props := make(map[string]any, len(defs)+len(extra))
	for _, d := range defs {
		if v, ok := cfg.ContextValue(d.Key); ok && v != nil {
			props[d.Key] = v
		}
	}
	for k, v := range extra {
		props[k] = v
	}
	ctx := runcontext.New(props)
	if err := config.CheckOptions(defs, ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
