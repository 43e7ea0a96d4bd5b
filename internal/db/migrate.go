package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	// registers the postgres database driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/diewo77/quotemaster/internal/config"
	"github.com/diewo77/quotemaster/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// coreTables must exist after either migration path.
var coreTables = []string{"clients", "products", "estimates", "estimate_items", "invoices", "invoice_items", "revenue", "settings", "jobs"}

// Migrate brings the schema up to date. With MIGRATIONS enabled on postgres
// the embedded SQL files are applied through golang-migrate; otherwise
// gorm AutoMigrate is used, which is what sqlite and development rely on.
func Migrate(gdb *gorm.DB, cfg *config.Config, log *slog.Logger) error {
	if cfg.App.Migrations && cfg.Database.Driver == "postgres" {
		url := ToURLDSN(NormalizeDSN(cfg.Database.DSN()))
		if log != nil {
			log.Info("running sql migrations", slog.String("dsn", MaskDSN(url)))
		}
		if err := RunSQLMigrations(url); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
	} else if err := AutoMigrate(gdb); err != nil {
		return err
	}

	for _, table := range coreTables {
		if !gdb.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// AutoMigrate creates or updates every model table.
func AutoMigrate(gdb *gorm.DB) error {
	for _, m := range models.All() {
		if err := gdb.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// RunSQLMigrations applies the embedded migrations to a postgres URL.
func RunSQLMigrations(databaseURL string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// RollbackSQLMigrations reverts the given number of migration steps.
func RollbackSQLMigrations(databaseURL string, steps int) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
