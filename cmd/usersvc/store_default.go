//go:build !sqlite && !postgres

package main

import (
	"usersvc/internal/config"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
)

// selectStore returns the in-memory store when built without storage tags.
func selectStore(cfg config.Config, logger observability.Logger) storage.Store {
	logger = logger.WithComponent("storage").With("backend", "memory")
	if cfg.Database.PostgresURL != "" {
		logger.Warn("database URL set, but binary not built with -tags postgres; using in-memory store")
	}
	logger.Info("using in-memory store")
	return storage.NewMemoryStore()
}

func migrationStatus(config.Config) (string, error) {
	return "migrations status not available in this build", nil
}
