// Package migrations embeds the audit database schema.
package migrations

import "embed"

// FS holds the versioned SQL migrations.
//
//go:embed *.sql
var FS embed.FS
