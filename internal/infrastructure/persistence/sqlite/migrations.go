package sqlite

import "embed"

// Migrations holds the versioned schema files applied by database.Migrator
//
//go:embed migrations/*.sql
var Migrations embed.FS
