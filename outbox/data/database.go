package data

import (
	"context"
	"database/sql"
	"time"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/log"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	connectionAttempts    = 30
	maxOpenConnections    = 10
	maxIdleConnections    = 5
	maxConnectionLifetime = time.Minute * 1
)

var retryInterval = time.Second * 1

type DB struct {
	db  *sql.DB
	cfg config.Database
}

func NewDB(db *sql.DB, cfg config.Database) DB {
	return DB{
		db:  db,
		cfg: cfg,
	}
}

func (db DB) Config() config.Database {
	return db.cfg
}

func (db DB) Connection() *sql.DB {
	return db.db
}

func (db DB) Close() {
	if err := db.db.Close(); err != nil {
		log.Logger.WithError(err).Error("error closing database during shutdown process")
	}
}

func init() {
	setupLoggers()
}

func setupLoggers() {
	err := mysql.SetLogger(log.Logger)
	if err != nil {
		log.Logger.WithError(err).Fatalf("unable to set up JSON logger for MySQL driver")
	}
}

// OpenLedger connects to an outbox ledger and applies its migrations, unless
// migrations are disabled.
func OpenLedger(ctx context.Context, dbCfg config.Database, skipMigrations bool) (DB, error) {
	db, err := open(ctx, dbCfg)
	if err != nil {
		return DB{}, err
	}

	if skipMigrations {
		log.Logger.Info("skipping database migrations because they are disabled")
		return db, nil
	}

	if err := MigrateDatabase(db.db, dbCfg); err != nil {
		db.Close()
		return DB{}, err
	}

	return db, nil
}

// OpenBacklog connects to the intake backlog. Its schema belongs to the
// producer so no migrations are applied.
func OpenBacklog(ctx context.Context, dbCfg config.Database) (DB, error) {
	return open(ctx, dbCfg)
}

func open(ctx context.Context, dbCfg config.Database) (DB, error) {
	log.Logger.WithField("database", dbCfg.Name).Debug("connecting to the database")

	db, err := sql.Open(dbCfg.SQLDriverName(), dbCfg.GetDSN())
	if err != nil {
		return DB{}, errors.Errorf("data: unable to connect to the database: %s", err)
	}

	if dbCfg.Driver.SQLite() {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(maxOpenConnections)
		db.SetMaxIdleConns(maxIdleConnections)
		db.SetConnMaxLifetime(maxConnectionLifetime)
	}

	if err := connectToDatabase(ctx, db); err != nil {
		_ = db.Close()
		return DB{}, err
	}

	return NewDB(db, dbCfg), nil
}

func connectToDatabase(ctx context.Context, db *sql.DB) error {
	tries := connectionAttempts
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}

		tries--
		if tries == 0 {
			return errors.Errorf("data: database did not become available within %d connection attempts", connectionAttempts)
		}
		log.Logger.Infof("database is not available (err: %s), retrying %d more time(s)", err, tries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
