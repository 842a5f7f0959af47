// File: internal/target/github/issues.go
package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
	"github.com/xkilldash9x/bugsync/internal/target"
)

// Context option keys for GitHub.
const (
	OptToken   = "github.token"
	OptOwner   = "github.owner"
	OptRepo    = "github.repo"
	OptBaseURL = "github.base_url"
)

// Field map keys understood by the submitter.
const (
	FieldTitle     = "title"
	FieldBody      = "body"
	FieldLabels    = "labels"
	FieldAssignees = "assignees"
	FieldState     = "state"

	TitleLimit = 256
)

// Submitter creates GitHub issues from field maps.
type Submitter struct {
	cfg    config.GitHubConfig
	logger *zap.Logger
}

func NewSubmitter(cfg config.GitHubConfig, logger *zap.Logger) *Submitter {
	return &Submitter{cfg: cfg, logger: logger.Named("github")}
}

// NewTarget builds the generic GitHub target with the title limit applied.
func NewTarget(cfg config.GitHubConfig, logger *zap.Logger, opts ...target.Option) *target.Target {
	opts = append([]target.Option{target.WithFieldLimit(FieldTitle, TitleLimit), target.WithLogger(logger)}, opts...)
	return target.NewGeneric("GitHub", NewSubmitter(cfg, logger), opts...)
}

// Options returns the GitHub connection options.
func (s *Submitter) Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: OptToken, Description: "GitHub token with issue write access", Secret: true},
		{Key: OptOwner, Description: "GitHub repository owner"},
		{Key: OptRepo, Description: "GitHub repository name"},
		{Key: OptBaseURL, Description: "GitHub Enterprise URL; empty for github.com"},
	}
}

type repoRef struct {
	owner string
	repo  string
}

func (s *Submitter) connect(props *runcontext.Context) (*gh.Client, repoRef, error) {
	ref := repoRef{owner: value(props, OptOwner, s.cfg.Owner), repo: value(props, OptRepo, s.cfg.Repo)}
	token := value(props, OptToken, s.cfg.Token)
	if token == "" {
		return nil, ref, syncerr.Configuration("github connection", "%s is required", OptToken)
	}
	if ref.owner == "" || ref.repo == "" {
		return nil, ref, syncerr.Configuration("github connection", "%s and %s are required", OptOwner, OptRepo)
	}

	client := gh.NewClient(nil).WithAuthToken(token)
	if base := value(props, OptBaseURL, s.cfg.BaseURL); base != "" {
		var err error
		if client, err = client.WithEnterpriseURLs(base, base); err != nil {
			return nil, ref, syncerr.Configuration("github connection", "invalid %s %q: %v", OptBaseURL, base, err)
		}
	}
	return client, ref, nil
}

// SubmitIssue creates one issue. labels and assignees accept a list or a
// comma separated string.
func (s *Submitter) SubmitIssue(ctx context.Context, b runcontext.Branch, fields schemas.FieldMap) (schemas.IssueLocator, error) {
	client, ref, err := s.connect(b.Context)
	if err != nil {
		return schemas.IssueLocator{}, err
	}

	req := &gh.IssueRequest{Title: gh.String(fields.GetString(FieldTitle))}
	if body := fields.GetString(FieldBody); body != "" {
		req.Body = gh.String(body)
	}
	if labels := list(fields, FieldLabels); len(labels) > 0 {
		req.Labels = &labels
	}
	if assignees := list(fields, FieldAssignees); len(assignees) > 0 {
		req.Assignees = &assignees
	}

	issue, _, err := client.Issues.Create(ctx, ref.owner, ref.repo, req)
	if err != nil {
		return schemas.IssueLocator{}, fmt.Errorf("failed to create issue in %s/%s: %w", ref.owner, ref.repo, err)
	}
	s.logger.Debug("Created issue", zap.Int("number", issue.GetNumber()), zap.String("repo", ref.owner+"/"+ref.repo))
	return schemas.IssueLocator{
		ID:       strconv.Itoa(issue.GetNumber()),
		DeepLink: issue.GetHTMLURL(),
		Scope:    map[string]string{"owner": ref.owner, "repo": ref.repo},
	}, nil
}

// GetIssueFields returns title, body, state and labels of an issue. The
// locator's owner and repo win over the branch's.
func (s *Submitter) GetIssueFields(ctx context.Context, b runcontext.Branch, loc schemas.IssueLocator) (schemas.FieldMap, error) {
	client, ref, err := s.connect(b.Context)
	if err != nil {
		return schemas.FieldMap{}, err
	}
	if o := loc.Scope["owner"]; o != "" {
		ref.owner = o
	}
	if r := loc.Scope["repo"]; r != "" {
		ref.repo = r
	}
	number, err := strconv.Atoi(loc.ID)
	if err != nil {
		return schemas.FieldMap{}, fmt.Errorf("invalid issue number %q", loc.ID)
	}

	issue, _, err := client.Issues.Get(ctx, ref.owner, ref.repo, number)
	if err != nil {
		return schemas.FieldMap{}, fmt.Errorf("failed to get issue %s/%s#%d: %w", ref.owner, ref.repo, number, err)
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return schemas.NewFieldMap(
		FieldTitle, issue.GetTitle(),
		FieldBody, issue.GetBody(),
		FieldState, issue.GetState(),
		FieldLabels, labels,
	), nil
}

func list(fields schemas.FieldMap, key string) []string {
	v, ok := fields.Get(key)
	if !ok || v == nil {
		return nil
	}
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case []any:
		for _, e := range t {
			raw = append(raw, fmt.Sprint(e))
		}
	default:
		raw = strings.Split(fmt.Sprint(t), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func value(props *runcontext.Context, key, fallback string) string {
	if props != nil && !props.IsBlank(key) {
		return strings.TrimSpace(props.GetString(key))
	}
	return fallback
}
