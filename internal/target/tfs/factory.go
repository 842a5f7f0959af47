// File: internal/target/tfs/factory.go
package tfs

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/restclient"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Context option keys for the TFS / Azure DevOps connection.
const (
	OptURL        = "tfs.url"
	OptUser       = "tfs.user"
	OptPassword   = "tfs.password"
	OptCollection = "tfs.collection"
	OptProject    = "tfs.project"

	// KeyWorkItemType overrides the configured work item type per branch.
	KeyWorkItemType = "workItemType"
)

// ConnectionFactory builds TFS REST clients from a branch's context, falling
// back to the configured defaults.
type ConnectionFactory struct {
	cfg    config.TFSConfig
	logger *zap.Logger
}

func NewConnectionFactory(cfg config.TFSConfig, logger *zap.Logger) *ConnectionFactory {
	return &ConnectionFactory{cfg: cfg, logger: logger}
}

// Options returns the connection options contributed by TFS.
func (f *ConnectionFactory) Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: OptURL, Description: "TFS or Azure DevOps URL, for example https://dev.azure.com"},
		{Key: OptUser, Description: "TFS user name; may be empty when a personal access token is used"},
		{Key: OptPassword, Description: "TFS password or personal access token", Secret: true},
		{Key: OptCollection, Description: "TFS collection (Azure DevOps organization)"},
		{Key: OptProject, Description: "TFS project that new work items are created in"},
	}
}

// coordinates is where a branch's work items live.
type coordinates struct {
	collection string
	project    string
}

// Client returns a REST client rooted at the TFS server URL together with the
// branch's collection and project.
func (f *ConnectionFactory) Client(props *runcontext.Context) (*restclient.Client, coordinates, error) {
	url := f.value(props, OptURL, f.cfg.URL)
	password := f.value(props, OptPassword, f.cfg.Password)
	coords := coordinates{
		collection: f.value(props, OptCollection, f.cfg.Collection),
		project:    f.value(props, OptProject, f.cfg.Project),
	}
	switch {
	case url == "":
		return nil, coords, syncerr.Configuration("tfs connection", "%s is required", OptURL)
	case password == "":
		return nil, coords, syncerr.Configuration("tfs connection", "%s is required", OptPassword)
	case coords.collection == "" || coords.project == "":
		return nil, coords, syncerr.Configuration("tfs connection", "%s and %s are required", OptCollection, OptProject)
	}

	rest, err := restclient.New(restclient.Config{
		BaseURL:    url,
		Username:   f.value(props, OptUser, f.cfg.User),
		Password:   password,
		Timeout:    f.cfg.Timeout,
		MaxRetries: f.cfg.MaxRetries,
	}, f.logger)
	if err != nil {
		return nil, coords, err
	}
	return rest, coords, nil
}

func (f *ConnectionFactory) value(props *runcontext.Context, key, fallback string) string {
	if props != nil && !props.IsBlank(key) {
		return strings.TrimSpace(props.GetString(key))
	}
	return fallback
}
