// File: internal/target/tfs/workitems.go
package tfs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/restclient"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/target"
)

const (
	// TitleField is the work item field holding the title.
	TitleField = "System.Title"
	// TitleLimit is the longest title TFS accepts.
	TitleLimit = 254

	defaultAPIVersion   = "6.0"
	defaultWorkItemType = "Bug"
)

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type workItem struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields"`
	Links  struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"_links"`
}

// Submitter creates TFS work items from field maps. Field names are work
// item reference names such as System.Title.
type Submitter struct {
	factory      *ConnectionFactory
	workItemType string
	apiVersion   string
	logger       *zap.Logger
}

func NewSubmitter(f *ConnectionFactory, logger *zap.Logger) *Submitter {
	s := &Submitter{
		factory:      f,
		workItemType: f.cfg.WorkItemType,
		apiVersion:   f.cfg.APIVersion,
		logger:       logger.Named("tfs"),
	}
	if s.workItemType == "" {
		s.workItemType = defaultWorkItemType
	}
	if s.apiVersion == "" {
		s.apiVersion = defaultAPIVersion
	}
	return s
}

// NewTarget builds the generic TFS target with the title limit applied.
func NewTarget(f *ConnectionFactory, logger *zap.Logger, opts ...target.Option) *target.Target {
	opts = append([]target.Option{target.WithFieldLimit(TitleField, TitleLimit), target.WithLogger(logger)}, opts...)
	return target.NewGeneric("TFS", NewSubmitter(f, logger), opts...)
}

// Options returns the factory's connection options.
func (s *Submitter) Options() []config.OptionDefinition {
	return append(s.factory.Options(), config.OptionDefinition{
		Key:         KeyWorkItemType,
		Description: "Work item type to create, default " + s.workItemType,
	})
}

// SubmitIssue creates one work item in the branch's collection and project.
func (s *Submitter) SubmitIssue(ctx context.Context, b runcontext.Branch, fields schemas.FieldMap) (schemas.IssueLocator, error) {
	rest, coords, err := s.factory.Client(b.Context)
	if err != nil {
		return schemas.IssueLocator{}, err
	}
	wit := s.workItemType
	if !b.Context.IsBlank(KeyWorkItemType) {
		wit = b.Context.GetString(KeyWorkItemType)
	}

	keys := fields.Keys()
	ops := make([]patchOp, 0, len(keys))
	for _, k := range keys {
		v, _ := fields.Get(k)
		ops = append(ops, patchOp{Op: "add", Path: "/fields/" + k, Value: v})
	}

	path := fmt.Sprintf("%s/%s/_apis/wit/workitems/$%s",
		url.PathEscape(coords.collection), url.PathEscape(coords.project), url.PathEscape(wit))
	var created workItem
	err = rest.Do(ctx, http.MethodPost, path, s.query(), ops, &created,
		restclient.WithContentType("application/json-patch+json"))
	if err != nil {
		return schemas.IssueLocator{}, fmt.Errorf("failed to create %s work item: %w", wit, err)
	}

	s.logger.Debug("Created work item", zap.Int64("id", created.ID), zap.String("project", coords.project))
	return schemas.IssueLocator{
		ID:       strconv.FormatInt(created.ID, 10),
		DeepLink: created.Links.HTML.Href,
		Scope:    map[string]string{"collection": coords.collection, "project": coords.project},
	}, nil
}

// GetIssueFields reads a work item's current fields, sorted by name. The
// locator's collection wins over the branch's.
func (s *Submitter) GetIssueFields(ctx context.Context, b runcontext.Branch, loc schemas.IssueLocator) (schemas.FieldMap, error) {
	rest, coords, err := s.factory.Client(b.Context)
	if err != nil {
		return schemas.FieldMap{}, err
	}
	collection := coords.collection
	if c := loc.Scope["collection"]; c != "" {
		collection = c
	}
	if _, err := strconv.ParseInt(loc.ID, 10, 64); err != nil {
		return schemas.FieldMap{}, fmt.Errorf("invalid work item id %q", loc.ID)
	}

	var item workItem
	path := fmt.Sprintf("%s/_apis/wit/workitems/%s", url.PathEscape(collection), loc.ID)
	if err := rest.Get(ctx, path, s.query(), &item); err != nil {
		return schemas.FieldMap{}, fmt.Errorf("failed to get work item %s: %w", loc.ID, err)
	}

	names := make([]string, 0, len(item.Fields))
	for k := range item.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	var out schemas.FieldMap
	for _, k := range names {
		out.Set(k, item.Fields[k])
	}
	return out, nil
}

func (s *Submitter) query() url.Values {
	return url.Values{"api-version": {s.apiVersion}}
}
