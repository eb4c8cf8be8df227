// Package migrations embeds the SQL migrations applied by the SQL environment stores.
package migrations

import "embed"

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
