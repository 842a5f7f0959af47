package github

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

type created struct {
	mu   sync.Mutex
	auth string
	body map[string]any
}

func setupGitHub(t *testing.T) (config.GitHubConfig, *created) {
	t.Helper()
	c := &created{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/acme/payments/issues", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.auth = r.Header.Get("Authorization")
		assert.NoError(t, json.Unmarshal(data, &c.body))
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"number":17,"html_url":"https://ghe.example.com/acme/payments/issues/17"}`)
	})
	mux.HandleFunc("GET /api/v3/repos/acme/payments/issues/17", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"number":17,"title":"SQL Injection","body":"details","state":"open","labels":[{"name":"security"},{"name":"sast"}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return config.GitHubConfig{Token: "ghp_test", Owner: "acme", Repo: "payments", BaseURL: server.URL + "/"}, c
}

func TestTarget_SubmitIssue(t *testing.T) {
	cfg, c := setupGitHub(t)
	tgt := NewTarget(cfg, zap.NewNop())
	assert.Equal(t, "GitHub", tgt.Name())

	fields := schemas.NewFieldMap(
		FieldTitle, strings.Repeat("t", 300),
		FieldBody, "found in main.go",
		FieldLabels, "security, sast,",
		FieldAssignees, []any{"octocat"},
	)
	g := schemas.Group{Key: "k", Records: []schemas.Vulnerability{{ID: "1"}}}
	submitted, err := tgt.ProcessMap(context.Background(), runcontext.NewBranch(runcontext.New(nil)), g, fields)
	require.NoError(t, err)
	assert.True(t, submitted)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "Bearer ghp_test", c.auth)
	assert.Equal(t, TitleLimit, utf8.RuneCountInString(c.body["title"].(string)))
	assert.Equal(t, "found in main.go", c.body["body"])
	assert.Equal(t, []any{"security", "sast"}, c.body["labels"])
	assert.Equal(t, []any{"octocat"}, c.body["assignees"])
}

func TestSubmitter_Locator(t *testing.T) {
	cfg, _ := setupGitHub(t)
	s := NewSubmitter(cfg, zap.NewNop())

	loc, err := s.SubmitIssue(context.Background(), runcontext.NewBranch(runcontext.New(nil)), schemas.NewFieldMap(FieldTitle, "x"))
	require.NoError(t, err)
	assert.Equal(t, "17", loc.ID)
	assert.Equal(t, "https://ghe.example.com/acme/payments/issues/17", loc.DeepLink)
	assert.Equal(t, map[string]string{"owner": "acme", "repo": "payments"}, loc.Scope)
}

func TestTarget_IssueFields(t *testing.T) {
	cfg, _ := setupGitHub(t)
	tgt := NewTarget(cfg, zap.NewNop())

	fields, err := tgt.IssueFields(context.Background(), runcontext.NewBranch(runcontext.New(nil)),
		schemas.IssueLocator{ID: "17", Scope: map[string]string{"owner": "acme", "repo": "payments"}})
	require.NoError(t, err)
	assert.Equal(t, []string{FieldTitle, FieldBody, FieldState, FieldLabels}, fields.Keys())
	assert.Equal(t, "open", fields.GetString(FieldState))
	labels, _ := fields.Get(FieldLabels)
	assert.Equal(t, []string{"security", "sast"}, labels)
}

func TestSubmitter_Configuration(t *testing.T) {
	s := NewSubmitter(config.GitHubConfig{Owner: "acme", Repo: "payments"}, zap.NewNop())
	_, err := s.SubmitIssue(context.Background(), runcontext.NewBranch(runcontext.New(nil)), schemas.NewFieldMap(FieldTitle, "x"))
	assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))

	s = NewSubmitter(config.GitHubConfig{Token: "t"}, zap.NewNop())
	_, err = s.SubmitIssue(context.Background(), runcontext.NewBranch(runcontext.New(map[string]any{OptOwner: "acme"})), schemas.NewFieldMap(FieldTitle, "x"))
	assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
}
