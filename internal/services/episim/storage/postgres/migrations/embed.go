package migrations

import "embed"

// FS contains embedded Postgres migrations for report storage.
//
//go:embed *.sql
var FS embed.FS
