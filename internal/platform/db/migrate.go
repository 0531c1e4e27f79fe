package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded schema migrations. direction is "up" or "down";
// steps > 0 limits how many migrations are applied.
func Migrate(dsn, direction string, steps int, logger *slog.Logger) error {
	m, closeFn, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case direction == "down" && steps > 0:
		err = m.Steps(-steps)
	case direction == "down":
		err = m.Down()
	default:
		return fmt.Errorf("platform/db: unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		if logger != nil {
			logger.Info("migrations: no change")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("platform/db: migrate %s: %w", direction, err)
	}
	if logger != nil {
		version, dirty, _ := m.Version()
		logger.Info("migrations applied", slog.String("direction", direction), slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}
	return nil
}

// MigrationVersion reports the current schema version.
func MigrationVersion(dsn string) (uint, bool, error) {
	m, closeFn, err := newMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(dsn string) (*migrate.Migrate, func(), error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("platform/db: open: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("platform/db: migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("platform/db: migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("platform/db: migrate init: %w", err)
	}
	return m, func() {
		_, _ = m.Close()
	}, nil
}
