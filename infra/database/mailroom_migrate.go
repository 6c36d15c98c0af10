package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"mailroom_server/db"
)

// Migrate applies all pending migrations from the embedded source.
// The schema ships as a single up migration; downgrades are not
// supported.
func Migrate(databaseURL string) error {
	return migrateFS(db.Migrations, databaseURL)
}

func migrateFS(fsys embed.FS, databaseURL string) error {
	src, err := iofs.New(fsys, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
