// Package migrations holds the embedded schema of the SQLite ledger.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SchemaVersion is the version of the newest file under files/. Bump it
// together with every new migration.
const SchemaVersion uint = 1

//go:embed files/*.sql
var migrationFiles embed.FS

// MigrateUp brings the ledger schema to SchemaVersion. An up-to-date
// database is left alone.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying ledger migrations: %w", err)
	}
	return nil
}

// CheckDBMigrationStatus reports an error unless the database is cleanly at
// SchemaVersion.
func CheckDBMigrationStatus(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close the caller's db.

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return fmt.Errorf("database has no schema version (needs migration)")
	case err != nil:
		return fmt.Errorf("reading ledger schema version: %w", err)
	case dirty:
		return fmt.Errorf("ledger schema is dirty at version %d (a migration failed)", version)
	case version < SchemaVersion:
		return fmt.Errorf("ledger schema is at version %d, want %d", version, SchemaVersion)
	case version > SchemaVersion:
		return fmt.Errorf("ledger schema version %d is newer than this binary (%d)", version, SchemaVersion)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
