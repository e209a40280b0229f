package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationConfig controls how schema migrations are applied at boot.
type MigrationConfig struct {
	MigrationFolderPath string
	// Version pins the schema to a specific migration; zero means latest.
	Version uint
	// Force stamps the schema version without running migrations. Used to
	// recover a database left dirty by a crashed deploy.
	Force int
	// AutoRollback stamps a dirty schema back to its pre-migration version
	// so the next deploy can retry cleanly. The boot still fails.
	AutoRollback bool
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{config: config, logger: logger}
}

// Migrate brings the schema to the configured version using the given driver.
func (ms *MigrationService) Migrate(databaseName string, driver database.Driver) error {
	folder := ms.resolveFolder()
	if _, err := os.Stat(folder); err != nil {
		return fmt.Errorf("migration folder %s does not exist: %w", folder, err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return fmt.Errorf("failed to force schema version %d: %w", ms.config.Force, err)
		}
	}

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Error("Failed to read current schema version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	switch {
	case err == nil:
		ms.logger.Infof("Schema migrations applied in %v", time.Since(start))
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		ms.logger.Info("Schema already up to date")
		return nil
	}

	return ms.recover(m, err, before)
}

// recover handles a failed migration. A dirty schema blocks every later
// migration attempt, so with AutoRollback enabled the schema version is
// stamped back to where it was before the boot fails.
func (ms *MigrationService) recover(m *migrate.Migrate, migrationErr error, before uint) error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		ms.logger.WithError(err).Error("Failed to read schema version after failed migration")
		return migrationErr
	}

	ms.logger.WithError(migrationErr).Errorf("Migration failed at version %d (dirty=%t)", version, dirty)

	if ms.config.AutoRollback && dirty {
		target := before
		if target == 0 && version > 0 {
			target = version - 1
		}
		ms.logger.Warnf("Stamping dirty schema back to version %d", target)
		if err := m.Force(int(target)); err != nil {
			ms.logger.WithError(err).Errorf("Failed to stamp schema version %d", target)
		}
	}

	return migrationErr
}

// resolveFolder tries the configured path as given, then relative to the
// working directory. Containers and local runs mount migrations differently.
func (ms *MigrationService) resolveFolder() string {
	folder := ms.config.MigrationFolderPath
	if _, err := os.Stat(folder); err == nil {
		return folder
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, folder)
	}
	return folder
}

// migrateLogger adapts the structured logger to migrate's Logger interface.
type migrateLogger struct {
	ectologger.Logger
}

func (l migrateLogger) Verbose() bool { return false }

func (l migrateLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}
