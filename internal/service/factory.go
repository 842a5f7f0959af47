// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/expression"
	"github.com/xkilldash9x/bugsync/internal/grouping"
	"github.com/xkilldash9x/bugsync/internal/resolver"
	"github.com/xkilldash9x/bugsync/internal/runner"
	"github.com/xkilldash9x/bugsync/internal/source/findingsdb"
	sscsrc "github.com/xkilldash9x/bugsync/internal/source/ssc"
	"github.com/xkilldash9x/bugsync/internal/target"
	"github.com/xkilldash9x/bugsync/internal/target/github"
	ssctarget "github.com/xkilldash9x/bugsync/internal/target/ssc"
	"github.com/xkilldash9x/bugsync/internal/target/tfs"
)

// ComponentFactory creates the set of components needed for a sync run.
// This abstraction is the key to making the sync command's logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires source, target, resolver chain and processor into a runner.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	processor, err := NewProcessor(cfg.Processing(), logger)
	if err != nil {
		initializationErr = err
		return nil, err
	}

	trackerName := TrackerName(cfg.Target())
	var (
		source    schemas.RecordSource
		links     schemas.LinkRecorder
		resolvers []*resolver.Resolver
		sscConns  *sscsrc.ConnectionFactory
	)

	// 1. Source and its resolvers
	switch cfg.Source().Type {
	case config.SourceSSC:
		sc := cfg.Source().SSC
		sscConns = sscsrc.NewConnectionFactory(sc, logger)
		src := sscsrc.NewSource(sscConns, sc.IssueFilter, logger)
		source, links = src, src
		filter := sscsrc.Filter{Query: sc.VersionQuery}
		if cfg.Target().Type == config.TargetSSC {
			filter.BugTrackerName = cfg.Target().SSC.BugTrackerName
		}
		resolvers = append(resolvers,
			sscsrc.ApplicationVersionResolver(sscConns, filter),
			sscsrc.AttributeMapper(sscConns, sc.AttributeMappings),
		)
	case config.SourceFindingsDB:
		pool, err := InitializeDBPool(ctx, cfg.Source().Database, logger)
		if err != nil {
			initializationErr = err
			return nil, err
		}
		components.DBPool = pool
		store, err := findingsdb.New(ctx, pool, trackerName, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize findings store: %w", err)
			return nil, initializationErr
		}
		source, links = store, store
		resolvers = append(resolvers, store.ScanResolver(cfg.Source().Database.ScanWindow))
	default:
		initializationErr = fmt.Errorf("unsupported source type %q", cfg.Source().Type)
		return nil, initializationErr
	}
	resolvers = append(resolvers, StaticResolvers(cfg.Resolvers())...)

	// 2. Target
	tgt, err := newTarget(cfg, sscConns, links, logger)
	if err != nil {
		initializationErr = err
		return nil, err
	}

	r := &runner.Runner{
		Chain:       resolver.NewChain(resolvers...),
		Source:      source,
		Processor:   processor,
		Target:      tgt,
		Parallelism: cfg.Run().Parallelism,
		Logger:      logger,
	}
	if cfg.Run().DryRun {
		r.Hook = runner.DryRun(logger)
	}
	if cfg.Run().UpdateExisting {
		r.Updater = runner.LoggingUpdater{Logger: logger.Named("updater")}
	}
	components.Runner = r
	components.Options = Options(cfg)

	logger.Debug("Components initialized.",
		zap.String("source", cfg.Source().Type),
		zap.String("tracker", tgt.Name()),
		zap.Int("resolvers", len(r.Chain.Resolvers())))
	return components, nil
}

func newTarget(cfg config.Interface, sscConns *sscsrc.ConnectionFactory, links schemas.LinkRecorder, logger *zap.Logger) (*target.Target, error) {
	tc := cfg.Target()
	switch tc.Type {
	case config.TargetSSC:
		if sscConns == nil {
			return nil, fmt.Errorf("target type %q requires source type %q", config.TargetSSC, config.SourceSSC)
		}
		return ssctarget.NewTarget(sscConns, tc.SSC.BugTrackerName, logger), nil
	case config.TargetTFS:
		return tfs.NewTarget(tfs.NewConnectionFactory(tc.TFS, logger), logger, target.WithLinkRecorder(links)), nil
	case config.TargetGitHub:
		return github.NewTarget(tc.GitHub, logger, target.WithLinkRecorder(links)), nil
	default:
		return nil, fmt.Errorf("unsupported target type %q", tc.Type)
	}
}

// TrackerName returns the name the configured target reports.
func TrackerName(tc config.TargetConfig) string {
	switch tc.Type {
	case config.TargetSSC:
		return tc.SSC.BugTrackerName + " through SSC"
	case config.TargetTFS:
		return "TFS"
	case config.TargetGitHub:
		return "GitHub"
	default:
		return tc.Type
	}
}

// NewProcessor compiles the processing templates.
func NewProcessor(pc config.ProcessingConfig, logger *zap.Logger) (*grouping.Processor, error) {
	engine, err := expression.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression engine: %w", err)
	}
	return grouping.New(engine, grouping.Config{
		GroupTemplate:  pc.GroupTemplate,
		Fields:         fieldTemplates(pc.Fields),
		AppendedFields: fieldTemplates(pc.AppendedFields),
	}, logger)
}

func fieldTemplates(in []config.FieldConfig) []grouping.FieldTemplate {
	out := make([]grouping.FieldTemplate, len(in))
	for i, f := range in {
		out[i] = grouping.FieldTemplate{Name: f.Name, Template: f.Template}
	}
	return out
}

// StaticResolvers builds the configured fixed-value resolvers, in order.
func StaticResolvers(rc config.ResolversConfig) []*resolver.Resolver {
	out := make([]*resolver.Resolver, 0, len(rc.Static))
	for _, s := range rc.Static {
		table := make(map[string]map[string]any, len(s.Mappings))
		for _, m := range s.Mappings {
			props := make(map[string]any, len(m.Properties))
			for _, p := range m.Properties {
				props[p.Key] = p.Value
			}
			table[m.Value] = props
		}
		r := &resolver.Resolver{
			Property: s.Property,
			Mapper:   resolver.StaticMapper{Table: table},
			Required: s.Required,
		}
		if len(s.Values) > 0 {
			r.Expander = resolver.StaticExpander{Values: s.Values, Table: table}
			r.UseForDefaults = true
		}
		out = append(out, r)
	}
	return out
}
