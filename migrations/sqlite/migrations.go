// Package sqlite embeds the SQLite schema migrations.
package sqlite

import "embed"

// Files holds the numbered SQLite migration files (NNNN_name.sql).
//
//go:embed *.sql
var Files embed.FS
