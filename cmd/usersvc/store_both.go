//go:build sqlite && postgres

package main

import (
	"usersvc/internal/config"
	"usersvc/internal/observability"
	"usersvc/internal/storage"
	pgstore "usersvc/internal/storage/postgres"
	sqlitestore "usersvc/internal/storage/sqlite"
)

// selectStore picks PostgreSQL if a database URL is configured, otherwise SQLite.
func selectStore(cfg config.Config, logger observability.Logger) storage.Store {
	logger = logger.WithComponent("storage")
	if cfg.Database.PostgresURL != "" {
		st, err := pgstore.New(cfg.Database.PostgresURL)
		if err != nil {
			logger.Error("postgres init failed; falling back to sqlite", "error", err)
		} else {
			logger.Info("using postgres store")
			return st
		}
	}
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
	if cfg.Database.PostgresURL != "" {
		return pgstore.Status(cfg.Database.PostgresURL)
	}
	return sqlitestore.Status(cfg.Database.SQLiteDSN)
}
