// Package migrations embeds the journal's SQL migration files into the
// binary, so the tool runs without the SQL files on disk.
package migrations

import "embed"

// FS holds the migration files at its root; pass "." as the directory.
//
//go:embed *.sql
var FS embed.FS
