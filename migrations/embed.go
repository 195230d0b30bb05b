// Package migrations embeds the SQL migration files into the binary.
//
// Importing this package for its side effect registers the files with
// the database package:
//
//	import _ "github.com/nerrad567/knxnetip/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/knxnetip/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS)
}
