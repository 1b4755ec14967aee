// Package migrations embeds SQL migration files.
package migrations

import "embed"

// PostgresFS contains the credential store migrations, applied in
// lexical order at startup.
//
//go:embed *.sql
var PostgresFS embed.FS
