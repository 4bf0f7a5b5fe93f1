// Package db carries the schema migrations, embedded so a deployment has no
// migrations directory to misplace.
package db

import "embed"

//go:embed migrations/*.up.sql
var Migrations embed.FS
