package store

import "embed"

// MigrationFS holds the SQL schema, applied by the migrate package.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
