// Package postgres embeds the PostgreSQL schema migrations.
package postgres

import "embed"

// Files holds the numbered PostgreSQL migration files (NNNN_name.up.sql).
//
//go:embed *.sql
var Files embed.FS
