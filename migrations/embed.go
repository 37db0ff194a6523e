// Package migrations embeds the SQL schema into the binary so reolinkd can
// migrate a fresh database without shipping .sql files alongside it.
package migrations

import (
	"embed"

	"github.com/nerrad567/reolink-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
