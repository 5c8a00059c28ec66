package data

import (
	"database/sql"
	"embed"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/johejo/golang-migrate-extra/source/iofs"
	"github.com/pkg/errors"
)

const (
	migrationsTable = "mqtt_outbox_schema_migrations"
)

var (
	//go:embed migrations/sqlite3/*.sql
	sqliteFiles embed.FS
	//go:embed migrations/mysql/*.sql
	mysqlFiles embed.FS
	//go:embed migrations/postgres/*.sql
	postgresFiles embed.FS
)

// MigrateDatabase brings the ledger schema up to date.
func MigrateDatabase(db *sql.DB, dbCfg config.Database) error {
	log.Logger.WithField("database", dbCfg.Name).Info("checking database migrations")

	var err error
	var driver database.Driver
	switch dbCfg.Driver {
	case config.SQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: migrationsTable})
	case config.MySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: migrationsTable})
	case config.Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	default:
		return errors.Errorf("data: no migrations for database driver %s", dbCfg.Driver)
	}

	if err != nil {
		return errors.Errorf("data: unable to create migration instance from database: %s", err)
	}

	d, err := createMigrateSourceDriver(dbCfg.Driver)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, dbCfg.Name, driver)
	if err != nil {
		return errors.Errorf("data: failed to load migration files from source driver: %s", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Errorf("data: failed to migrate database: %s", err)
	}

	log.Logger.Info("database is up-to-date, all migrations applied")

	return nil
}

func createMigrateSourceDriver(driver config.DbDriver) (source.Driver, error) {
	var d source.Driver
	var err error

	switch driver {
	case config.SQLite:
		d, err = iofs.New(sqliteFiles, "migrations/sqlite3")
	case config.MySQL:
		d, err = iofs.New(mysqlFiles, "migrations/mysql")
	case config.Postgres:
		d, err = iofs.New(postgresFiles, "migrations/postgres")
	}

	if err != nil {
		return nil, errors.Errorf("data: unable to load migration files from embedded filesystem: %s", err)
	}

	return d, nil
}
