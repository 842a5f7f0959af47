// File: internal/source/ssc/resolvers.go
package ssc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/resolver"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Context properties set by the application version resolver.
const (
	KeyApplicationVersionID   = "applicationVersionId"
	KeyApplicationVersionName = "applicationVersionName"
	KeyProjectName            = "projectName"
	KeyApplicationVersion     = "applicationVersion"
)

// Filter restricts which application versions are expanded.
type Filter struct {
	// BugTrackerName keeps only versions whose bug tracker has this short
	// display name. Empty keeps all.
	BugTrackerName string
	// Query is an SSC search query for application versions.
	Query string
}

// ApplicationVersionResolver owns applicationVersionId. Without a value it
// expands to every matching application version; with one it looks up the
// version's name and project.
func ApplicationVersionResolver(f *ConnectionFactory, filter Filter) *resolver.Resolver {
	r := &versionResolver{factory: f, filter: filter, logger: f.logger.Named("ssc.resolver")}
	return &resolver.Resolver{
		Property:       KeyApplicationVersionID,
		Expander:       r,
		Mapper:         r,
		UseForDefaults: true,
	}
}

type versionResolver struct {
	factory *ConnectionFactory
	filter  Filter
	logger  *zap.Logger
}

func (r *versionResolver) ExpandDefaults(ctx context.Context, props *runcontext.Context) ([]resolver.Candidate, error) {
	client, err := r.factory.Client(props)
	if err != nil {
		return nil, err
	}
	versions, err := client.ListApplicationVersions(ctx, r.filter.Query)
	if err != nil {
		return nil, err
	}

	out := make([]resolver.Candidate, 0, len(versions))
	for _, v := range versions {
		id := strconv.FormatInt(v.ID, 10)
		ok, err := r.usesBugTracker(ctx, client, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Debug("Skipping application version without matching bug tracker",
				zap.String("application_version", v.FullName()), zap.String("bug_tracker", r.filter.BugTrackerName))
			continue
		}
		out = append(out, resolver.Candidate{Value: id, Properties: versionProps(v)})
	}
	r.logger.Info("Expanded application versions", zap.Int("listed", len(versions)), zap.Int("selected", len(out)))
	return out, nil
}

func (r *versionResolver) MapProperties(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error) {
	client, err := r.factory.Client(props)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprint(value)
	v, err := client.GetApplicationVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := r.usesBugTracker(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.Configuration("map application version",
			"application version %s (%s) does not use bug tracker %s", id, v.FullName(), r.filter.BugTrackerName)
	}
	return versionProps(v), nil
}

func (r *versionResolver) usesBugTracker(ctx context.Context, client *Client, id string) (bool, error) {
	if r.filter.BugTrackerName == "" {
		return true, nil
	}
	name, err := client.BugTrackerShortName(ctx, id)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(name, r.filter.BugTrackerName), nil
}

func versionProps(v ApplicationVersion) map[string]any {
	return map[string]any{
		KeyApplicationVersionName: v.Name,
		KeyProjectName:            v.Project.Name,
		KeyApplicationVersion:     v.FullName(),
	}
}

// AttributeMapper loads application version attributes into context
// properties. mapping goes from attribute name (matched case-insensitively)
// to context key. Multi-valued attributes are joined with ",". The mapper
// hangs off applicationVersionId and must come after ApplicationVersionResolver.
func AttributeMapper(f *ConnectionFactory, mapping map[string]string) *resolver.Resolver {
	if len(mapping) == 0 {
		return nil
	}
	return &resolver.Resolver{
		Name:     "sscAttributes",
		Property: KeyApplicationVersionID,
		Mapper:   &attributeMapper{factory: f, mapping: mapping},
	}
}

type attributeMapper struct {
	factory *ConnectionFactory
	mapping map[string]string
}

func (m *attributeMapper) MapProperties(ctx context.Context, props *runcontext.Context, value any) (map[string]any, error) {
	client, err := m.factory.Client(props)
	if err != nil {
		return nil, err
	}
	attrs, err := client.AttributeValues(ctx, fmt.Sprint(value))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for name, values := range attrs {
		for attr, key := range m.mapping {
			if strings.EqualFold(name, attr) && len(values) > 0 {
				out[key] = strings.Join(values, ",")
			}
		}
	}
	return out, nil
}
