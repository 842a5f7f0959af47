package ssc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	sscsrc "github.com/xkilldash9x/bugsync/internal/source/ssc"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
	"github.com/xkilldash9x/bugsync/internal/target"
)

type recorded struct {
	mu      sync.Mutex
	actions []map[string]any
}

func (r *recorded) snapshot() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.actions...)
}

func setupTarget(t *testing.T, authRequired bool) (*target.Target, *recorded) {
	t.Helper()
	rec := &recorded{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/bugtracker"):
			auth := "false"
			if authRequired {
				auth = "true"
			}
			_, _ = io.WriteString(w, `{"data":[{"bugTracker":{"shortDisplayName":"TFS","authenticationRequired":`+auth+`}}]}`)
		case strings.HasSuffix(r.URL.Path, "/action"):
			var body map[string]any
			data, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(data, &body))
			rec.mu.Lock()
			rec.actions = append(rec.actions, body)
			rec.mu.Unlock()
			_, _ = io.WriteString(w, `{"data":{"values":{"externalBugDeepLink":"http://tfs/_workitems/edit/12"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	f := sscsrc.NewConnectionFactory(config.SSCConfig{URL: server.URL, Token: "tok"}, zap.NewNop())
	return NewTarget(f, "TFS", zap.NewNop()), rec
}

func branch(props map[string]any) runcontext.Branch {
	return runcontext.NewBranch(runcontext.New(props))
}

func TestTarget_FilesBugWithParams(t *testing.T) {
	tgt, rec := setupTarget(t, true)
	assert.Equal(t, "TFS through SSC", tgt.Name())
	assert.Equal(t, target.KindNative, tgt.Kind())

	b := branch(map[string]any{
		sscsrc.KeyApplicationVersionID: "42",
		target.KeyBugTrackerUsername:   "bob",
		target.KeyBugTrackerPassword:   "pw",
	})
	g := schemas.Group{Key: "SQL Injection", Records: []schemas.Vulnerability{{ID: "i1"}, {ID: "i2"}}}
	fields := schemas.NewFieldMap("summary", "SQL Injection", "severity", 4)

	submitted, err := tgt.ProcessMap(context.Background(), b, g, fields)
	require.NoError(t, err)
	assert.True(t, submitted)

	actions := rec.snapshot()
	require.Len(t, actions, 2)
	assert.Equal(t, "login", actions[0]["type"])
	assert.Equal(t, map[string]any{"username": "bob", "password": "pw"}, actions[0]["values"])

	assert.Equal(t, "FILE_BUG", actions[1]["type"])
	values := actions[1]["values"].(map[string]any)
	assert.Equal(t, []any{"i1", "i2"}, values["issueInstanceIds"])
	assert.Equal(t, []any{
		map[string]any{"identifier": "summary", "value": "SQL Injection"},
		map[string]any{"identifier": "severity", "value": "4"},
	}, values["bugParams"])
}

func TestTarget_MissingCredentials(t *testing.T) {
	tgt, rec := setupTarget(t, true)
	b := branch(map[string]any{sscsrc.KeyApplicationVersionID: "42", target.KeyBugTrackerUsername: "bob"})

	_, err := tgt.ProcessMap(context.Background(), b, schemas.Group{Records: []schemas.Vulnerability{{ID: "i1"}}}, schemas.NewFieldMap("summary", "x"))
	assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
	assert.Empty(t, rec.snapshot())
}

func TestTarget_NoAuthentication(t *testing.T) {
	tgt, rec := setupTarget(t, false)
	b := branch(map[string]any{sscsrc.KeyApplicationVersionID: "42"})

	_, err := tgt.ProcessMap(context.Background(), b, schemas.Group{Records: []schemas.Vulnerability{{ID: "i1"}}}, schemas.NewFieldMap("summary", "x"))
	require.NoError(t, err)
	actions := rec.snapshot()
	require.Len(t, actions, 1)
	assert.Equal(t, "FILE_BUG", actions[0]["type"])
}

func TestSubmitter_NeedsVersion(t *testing.T) {
	s := NewSubmitter(sscsrc.NewConnectionFactory(config.SSCConfig{URL: "http://ssc", Token: "t"}, zap.NewNop()), zap.NewNop())
	_, err := s.AuthenticationRequired(context.Background(), branch(nil))
	assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
}

func TestSubmitter_Options(t *testing.T) {
	s := NewSubmitter(sscsrc.NewConnectionFactory(config.SSCConfig{}, zap.NewNop()), zap.NewNop())
	props := runcontext.New(map[string]any{target.KeyBugTrackerUsername: "bob"})
	err := config.CheckOptions(s.Options(), props)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--bugtracker-password")
	assert.True(t, props.IsSecret(target.KeyBugTrackerPassword))
}
