// Package db carries the Postgres schema so the server binary can migrate
// without a checkout next to it.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
