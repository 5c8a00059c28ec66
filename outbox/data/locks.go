package data

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	pgLockNotAvailable   = "55P03"
	pgDeadlockDetected   = "40P01"
)

// IsLocked reports whether err is lock contention with another process, which
// callers retry on their next cycle instead of failing.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlLockWaitTimeout || mysqlErr.Number == mysqlDeadlock
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable || pgErr.Code == pgDeadlockDetected
	}

	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
