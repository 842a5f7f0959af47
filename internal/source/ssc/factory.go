// File: internal/source/ssc/factory.go
package ssc

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/restclient"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

// Context option keys for the SSC connection.
const (
	OptURL      = "ssc.url"
	OptToken    = "ssc.token"
	OptUser     = "ssc.user"
	OptPassword = "ssc.password"
)

// ConnectionFactory builds SSC clients from a branch's context, falling back
// to the configured defaults.
type ConnectionFactory struct {
	cfg    config.SSCConfig
	logger *zap.Logger
}

func NewConnectionFactory(cfg config.SSCConfig, logger *zap.Logger) *ConnectionFactory {
	return &ConnectionFactory{cfg: cfg, logger: logger}
}

// Options returns the connection options contributed by SSC. The password
// is only required when the config file does not carry one.
func (f *ConnectionFactory) Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: OptURL, Description: "SSC URL, for example https://ssc.example.com/ssc"},
		{Key: OptToken, Description: "SSC authentication token (CIToken or UnifiedLoginToken)", Secret: true},
		{Key: OptUser, Description: "SSC user name, when no token is given"},
		{Key: OptPassword, Description: "SSC password", Secret: true, Required: f.cfg.Password == "", DependsOn: []string{OptUser}},
	}
}

// Client returns a client for the SSC instance described by props. A missing
// url or missing credentials are configuration errors.
func (f *ConnectionFactory) Client(props *runcontext.Context) (*Client, error) {
	url := f.value(props, OptURL, f.cfg.URL)
	if url == "" {
		return nil, syncerr.Configuration("ssc connection", "%s is required", OptURL)
	}
	token := f.value(props, OptToken, f.cfg.Token)
	user := f.value(props, OptUser, f.cfg.User)
	password := f.value(props, OptPassword, f.cfg.Password)
	if token == "" && (user == "" || password == "") {
		return nil, syncerr.Configuration("ssc connection", "either %s or %s and %s is required", OptToken, OptUser, OptPassword)
	}

	rest, err := restclient.New(restclient.Config{
		BaseURL:     strings.TrimRight(url, "/") + "/api/v1",
		Username:    user,
		Password:    password,
		Token:       token,
		TokenScheme: "FortifyToken",
		Timeout:     f.cfg.Timeout,
		RateLimit:   f.cfg.RateLimit,
		MaxRetries:  f.cfg.MaxRetries,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	return NewClient(rest, f.cfg.PageSize, f.logger), nil
}

func (f *ConnectionFactory) value(props *runcontext.Context, key, fallback string) string {
	if props != nil && !props.IsBlank(key) {
		return strings.TrimSpace(props.GetString(key))
	}
	return fallback
}
