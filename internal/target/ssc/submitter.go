// File: internal/target/ssc/submitter.go
package ssc

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugsync/api/schemas"
	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/runcontext"
	sscsrc "github.com/xkilldash9x/bugsync/internal/source/ssc"
	"github.com/xkilldash9x/bugsync/internal/syncerr"
	"github.com/xkilldash9x/bugsync/internal/target"
)

// Submitter files bugs through the bug tracker plugin configured on the
// branch's SSC application version.
type Submitter struct {
	factory *sscsrc.ConnectionFactory
	logger  *zap.Logger
}

func NewSubmitter(f *sscsrc.ConnectionFactory, logger *zap.Logger) *Submitter {
	return &Submitter{factory: f, logger: logger.Named("ssc.bugfiling")}
}

// NewTarget wraps a Submitter in a native target named after the bug tracker.
func NewTarget(f *sscsrc.ConnectionFactory, bugTrackerName string, logger *zap.Logger) *target.Target {
	return target.NewNative(bugTrackerName+" through SSC", NewSubmitter(f, logger), target.WithLogger(logger))
}

// Options returns the bug tracker credentials SSC asks for when its plugin
// requires authentication.
func (s *Submitter) Options() []config.OptionDefinition {
	return []config.OptionDefinition{
		{Key: target.KeyBugTrackerUsername, Description: "User name for the bug tracker configured in SSC"},
		{
			Key:         target.KeyBugTrackerPassword,
			Description: "Password for the bug tracker configured in SSC",
			Secret:      true,
			Required:    true,
			DependsOn:   []string{target.KeyBugTrackerUsername},
		},
	}
}

func (s *Submitter) AuthenticationRequired(ctx context.Context, b runcontext.Branch) (bool, error) {
	client, id, err := s.connect(b)
	if err != nil {
		return false, err
	}
	bt, err := client.BugTracker(ctx, id)
	if err != nil {
		return false, err
	}
	return bt.AuthenticationRequired, nil
}

func (s *Submitter) Authenticate(ctx context.Context, b runcontext.Branch, username, secret string) error {
	client, id, err := s.connect(b)
	if err != nil {
		return err
	}
	return client.AuthenticateForBugFiling(ctx, id, username, secret)
}

// FileBug sends every field as a bug parameter, in field order.
func (s *Submitter) FileBug(ctx context.Context, b runcontext.Branch, fields schemas.FieldMap, instanceIDs []string) (string, error) {
	client, id, err := s.connect(b)
	if err != nil {
		return "", err
	}
	keys := fields.Keys()
	params := make([]sscsrc.BugParam, 0, len(keys))
	for _, k := range keys {
		params = append(params, sscsrc.BugParam{Identifier: k, Value: fields.GetString(k)})
	}
	link, err := client.FileBug(ctx, id, params, instanceIDs)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Filed bug", zap.String("application_version_id", id), zap.Int("issues", len(instanceIDs)))
	return link, nil
}

func (s *Submitter) connect(b runcontext.Branch) (*sscsrc.Client, string, error) {
	if b.Context.IsBlank(sscsrc.KeyApplicationVersionID) {
		return nil, "", syncerr.Configuration("ssc bug filing", "%s is not resolved", sscsrc.KeyApplicationVersionID)
	}
	client, err := s.factory.Client(b.Context)
	if err != nil {
		return nil, "", err
	}
	return client, b.Context.GetString(sscsrc.KeyApplicationVersionID), nil
}
