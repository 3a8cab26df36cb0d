//go:build postgres && !sqlite

package main

import (
	"errors"

	"usersvc/internal/config"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
	pgstore "usersvc/internal/storage/postgres"
)

// selectStore returns a PostgreSQL-backed store when built with the 'postgres' tag.
func selectStore(cfg config.Config, logger observability.Logger) storage.Store {
	logger = logger.WithComponent("storage").With("backend", "postgres")
	if cfg.Database.PostgresURL == "" {
		logger.Warn("no database URL configured; using in-memory store")
		return storage.NewMemoryStore()
	}
	st, err := pgstore.New(cfg.Database.PostgresURL)
	if err != nil {
		logger.Error("postgres init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using postgres store")
	return st
}

func migrationStatus(cfg config.Config) (string, error) {
	if cfg.Database.PostgresURL == "" {
		return "", errors.New("no database URL configured")
	}
	return pgstore.Status(cfg.Database.PostgresURL)
}
