// Package migrations compiles the SQL migration files into the binary, so
// a deployed miotcore needs no schema files on disk. Importing this
// package for side effects registers the embedded filesystem with the
// database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/miot-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	// The .sql files sit at the root of this embedded filesystem.
	database.MigrationsDir = "."
}
