package postgres

import "embed"

// Migrations holds the schema migrations under "migrations/".
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
