// Package migrations embeds the cdp schema into the binary so the daemon
// can migrate its database without SQL files on disk.
package migrations

import "embed"

// FS holds the migration files at its root, in the naming scheme read by
// database.LoadMigrations.
//
//go:embed *.sql
var FS embed.FS
