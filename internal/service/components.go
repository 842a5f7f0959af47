// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xkilldash9x/bugsync/internal/config"
	"github.com/xkilldash9x/bugsync/internal/observability"
	"github.com/xkilldash9x/bugsync/internal/runner"
)

// Components holds everything a sync run needs, wired from configuration.
type Components struct {
	Runner *runner.Runner
	// Options is the context option surface of the configured source, target
	// and static resolvers. InitialContext checks it.
	Options []config.OptionDefinition
	DBPool  *pgxpool.Pool
}

// Shutdown releases the components' resources.
func (c *Components) Shutdown() {
	if c.DBPool != nil {
		c.DBPool.Close()
		observability.GetLogger().Debug("Database connection pool closed.")
	}
}
