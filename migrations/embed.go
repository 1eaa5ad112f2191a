// Package migrations embeds the numbered SQL files applied by db.Migrator.
package migrations

import "embed"

// Files holds every *.sql migration in this directory.
//
//go:embed *.sql
var Files embed.FS
