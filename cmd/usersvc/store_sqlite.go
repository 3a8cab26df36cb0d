//go:build sqlite && !postgres

package main

import (
	"usersvc/internal/config"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
	sqlitestore "usersvc/internal/storage/sqlite"
)

// selectStore returns a SQLite-backed store when built with the 'sqlite' tag.
func selectStore(cfg config.Config, logger observability.Logger) storage.Store {
	logger = logger.WithComponent("storage").With("backend", "sqlite")
	dsn := cfg.Database.SQLiteDSN
	st, err := sqlitestore.New(dsn)
	if err != nil {
		logger.Error("sqlite init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using sqlite store", "dsn", dsn)
	return st
}

func migrationStatus(cfg config.Config) (string, error) {
	return sqlitestore.Status(cfg.Database.SQLiteDSN)
}
