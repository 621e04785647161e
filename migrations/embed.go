// Package migrations embeds the journal schema into the binary and
// registers it with the database package on import.
package migrations

import (
	"embed"

	"github.com/domo4/IoT23-s/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
