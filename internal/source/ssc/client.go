// File: internal/source/ssc/client.go
package ssc

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/restclient"
)

const defaultPageSize = 200

// ApplicationVersion is an SSC project version.
type ApplicationVersion struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Project struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
}

// FullName returns "Project:Version".
func (v ApplicationVersion) FullName() string {
	return v.Project.Name + ":" + v.Name
}

// BugTracker describes the bug tracker plugin an application version uses.
type BugTracker struct {
	ShortDisplayName       string `json:"shortDisplayName"`
	AuthenticationRequired bool   `json:"authenticationRequired"`
}

// Issue is an SSC issue as returned by the issues endpoint. Only the fields
// exposed to templates are decoded; the raw map is kept for everything else.
type Issue map[string]any

// InstanceID returns the issue's instance id, used for bug filing.
func (i Issue) InstanceID() string { return str(i["issueInstanceId"]) }

// BugURL returns the issue's bug link, if any.
func (i Issue) BugURL() string { return str(i["bugURL"]) }

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

type dataList[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

type dataOne[T any] struct {
	Data T `json:"data"`
}

// Client talks to the SSC REST API (/api/v1).
type Client struct {
	rest     *restclient.Client
	pageSize int
	logger   *zap.Logger
}

// NewClient wraps a REST client whose base URL points at the SSC api root.
func NewClient(rest *restclient.Client, pageSize int, logger *zap.Logger) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{rest: rest, pageSize: pageSize, logger: logger.Named("ssc")}
}

// ListApplicationVersions returns every application version matching the SSC
// search query q (empty for all), following pagination.
func (c *Client) ListApplicationVersions(ctx context.Context, q string) ([]ApplicationVersion, error) {
	var out []ApplicationVersion
	for start := 0; ; {
		query := url.Values{
			"fields": {"id,name,project"},
			"start":  {strconv.Itoa(start)},
			"limit":  {strconv.Itoa(c.pageSize)},
		}
		if q != "" {
			query.Set("q", q)
		}
		var page dataList[ApplicationVersion]
		if err := c.rest.Get(ctx, "projectVersions", query, &page); err != nil {
			return nil, fmt.Errorf("failed to list application versions: %w", err)
		}
		out = append(out, page.Data...)
		start += len(page.Data)
		if len(page.Data) == 0 || start >= page.Count {
			return out, nil
		}
	}
}

// GetApplicationVersion fetches one application version by id.
func (c *Client) GetApplicationVersion(ctx context.Context, id string) (ApplicationVersion, error) {
	var resp dataOne[ApplicationVersion]
	err := c.rest.Get(ctx, "projectVersions/"+url.PathEscape(id), url.Values{"fields": {"id,name,project"}}, &resp)
	if err != nil {
		return ApplicationVersion{}, fmt.Errorf("failed to get application version %s: %w", id, err)
	}
	return resp.Data, nil
}

// BugTracker returns the bug tracker configured for an application version.
// Versions without one yield a zero BugTracker.
func (c *Client) BugTracker(ctx context.Context, versionID string) (BugTracker, error) {
	var resp dataList[struct {
		BugTracker BugTracker `json:"bugTracker"`
	}]
	if err := c.rest.Get(ctx, "projectVersions/"+url.PathEscape(versionID)+"/bugtracker", nil, &resp); err != nil {
		return BugTracker{}, fmt.Errorf("failed to get bug tracker for application version %s: %w", versionID, err)
	}
	if len(resp.Data) == 0 {
		return BugTracker{}, nil
	}
	return resp.Data[0].BugTracker, nil
}

// BugTrackerShortName returns the short display name of the version's bug
// tracker, or "" if none is configured.
func (c *Client) BugTrackerShortName(ctx context.Context, versionID string) (string, error) {
	bt, err := c.BugTracker(ctx, versionID)
	return bt.ShortDisplayName, err
}

// AttributeValues returns the application version's attributes by
// definition name. Multi-valued attributes keep their value order.
func (c *Client) AttributeValues(ctx context.Context, versionID string) (map[string][]string, error) {
	var defs dataList[struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}]
	if err := c.rest.Get(ctx, "attributeDefinitions", url.Values{"fields": {"id,name"}, "limit": {"-1"}}, &defs); err != nil {
		return nil, fmt.Errorf("failed to list attribute definitions: %w", err)
	}
	names := make(map[int64]string, len(defs.Data))
	for _, d := range defs.Data {
		names[d.ID] = d.Name
	}

	var attrs dataList[struct {
		AttributeDefinitionID int64   `json:"attributeDefinitionId"`
		Value                 *string `json:"value"`
		Values                []struct {
			Name string `json:"name"`
		} `json:"values"`
	}]
	if err := c.rest.Get(ctx, "projectVersions/"+url.PathEscape(versionID)+"/attributes", nil, &attrs); err != nil {
		return nil, fmt.Errorf("failed to get attributes for application version %s: %w", versionID, err)
	}

	out := make(map[string][]string, len(attrs.Data))
	for _, a := range attrs.Data {
		name, ok := names[a.AttributeDefinitionID]
		if !ok {
			continue
		}
		if a.Value != nil {
			out[name] = append(out[name], *a.Value)
		}
		for _, v := range a.Values {
			out[name] = append(out[name], v.Name)
		}
	}
	return out, nil
}

// IssueQuery narrows the issues endpoint.
type IssueQuery struct {
	// Filter is an SSC search query ("q" parameter).
	Filter string
	// Linked selects issues by bug link: nil for all, true for linked only,
	// false for unlinked only.
	Linked *bool
}

// Issues streams an application version's visible issues page by page. The
// sequence stops at the first error.
func (c *Client) Issues(ctx context.Context, versionID string, q IssueQuery) iter.Seq2[Issue, error] {
	return func(yield func(Issue, error) bool) {
		for start := 0; ; {
			query := url.Values{
				"start":          {strconv.Itoa(start)},
				"limit":          {strconv.Itoa(c.pageSize)},
				"qm":             {"issues"},
				"showhidden":     {"false"},
				"showremoved":    {"false"},
				"showsuppressed": {"false"},
			}
			if q.Filter != "" {
				query.Set("q", q.Filter)
			}
			var page dataList[Issue]
			if err := c.rest.Get(ctx, "projectVersions/"+url.PathEscape(versionID)+"/issues", query, &page); err != nil {
				yield(nil, fmt.Errorf("failed to list issues for application version %s: %w", versionID, err))
				return
			}
			for _, issue := range page.Data {
				if q.Linked != nil && *q.Linked != (issue.BugURL() != "") {
					continue
				}
				if !yield(issue, nil) {
					return
				}
			}
			start += len(page.Data)
			if len(page.Data) == 0 || start >= page.Count {
				return
			}
		}
	}
}

// AuthenticateForBugFiling logs in to the version's bug tracker through SSC.
func (c *Client) AuthenticateForBugFiling(ctx context.Context, versionID, username, password string) error {
	body := map[string]any{
		"type":   "login",
		"values": map[string]string{"username": username, "password": password},
	}
	err := c.rest.Do(ctx, http.MethodPost, "projectVersions/"+url.PathEscape(versionID)+"/bugfilingrequirements/action", nil, body, nil)
	if err != nil {
		return fmt.Errorf("failed to authenticate for bug filing: %w", err)
	}
	return nil
}

// BugParam is one bug filing parameter.
type BugParam struct {
	Identifier string `json:"identifier"`
	Value      any    `json:"value"`
}

// FileBug files one bug for the given issue instance ids and returns the
// external deep link reported by SSC.
func (c *Client) FileBug(ctx context.Context, versionID string, params []BugParam, instanceIDs []string) (string, error) {
	body := map[string]any{
		"type": "FILE_BUG",
		"values": map[string]any{
			"bugParams":        params,
			"issueInstanceIds": instanceIDs,
		},
	}
	var resp struct {
		Data struct {
			Values struct {
				ExternalBugDeepLink string `json:"externalBugDeepLink"`
			} `json:"values"`
		} `json:"data"`
	}
	path := "projectVersions/" + url.PathEscape(versionID) + "/issues/action"
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return "", fmt.Errorf("failed to file bug: %w", err)
	}
	return resp.Data.Values.ExternalBugDeepLink, nil
}

// UpdateBugLink stores link as the bug URL of the given issue instances.
func (c *Client) UpdateBugLink(ctx context.Context, versionID string, instanceIDs []string, link string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	body := map[string]any{
		"type": "UPDATE_BUG_LINK",
		"values": map[string]any{
			"issueInstanceIds": instanceIDs,
			"bugLink":          link,
		},
	}
	path := "projectVersions/" + url.PathEscape(versionID) + "/issues/action"
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("failed to update bug link on %d issues: %w", len(instanceIDs), err)
	}
	c.logger.Info("Updated bug links", zap.String("application_version_id", versionID),
		zap.Int("issues", len(instanceIDs)), zap.String("bug_link", link))
	return nil
}
