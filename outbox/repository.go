package outbox

import (
	"database/sql"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/log"
	s "inviqa/mqtt-outbox-relay/outbox/data/sql"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var columns = []string{"id", "logical_time", "message_id", "previous_message_id", "qos", "topic", "payload", "processed_at", "confirmed_at"}

type queryProvider interface {
	InsertSql() string
	ReleaseSql() string
	ConfirmSql() string
	SupersedeSql() string
	UnconfirmedSql() string
	DeleteConfirmedFirstAttemptSql() string
	DeleteConfirmedSql() string
	DeleteStaleUnconfirmedSql() string
	GetQueueSizeSql() string
	GetTotalSizeSql() string
}

type Repository struct {
	db            *sql.DB
	cfg           config.Database
	queryProvider queryProvider
}

func NewRepository(db *sql.DB, cfg config.Database) Repository {
	return NewRepositoryWithQueryProvider(db, cfg, newQueryProvider(cfg.Driver, cfg.Table, columns))
}

func NewRepositoryWithQueryProvider(db *sql.DB, cfg config.Database, qp queryProvider) Repository {
	return Repository{
		db:            db,
		cfg:           cfg,
		queryProvider: qp,
	}
}

// Insert records a publish attempt. An older unconfirmed attempt holding the
// same logical time and message id is released for resending first, so that
// the pair names at most one unconfirmed row.
func (r Repository) Insert(rec *Record) error {
	log.Logger.WithFields(logrus.Fields{
		"logical_time": rec.LogicalTime,
		"message_id":   rec.MessageId,
		"topic":        rec.Topic,
	}).Debug("inserting outbox record")

	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "outbox: error starting transaction")
	}

	if rec.MessageId != 0 {
		if _, err := tx.Exec(r.queryProvider.ReleaseSql(), rec.LogicalTime, rec.MessageId); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "outbox: error releasing previous attempt")
		}
	}

	_, err = tx.Exec(r.queryProvider.InsertSql(), rec.LogicalTime, rec.MessageId, rec.PreviousMessageId, rec.Qos, rec.Topic, rec.Payload, rec.ProcessedAt)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "outbox: error inserting record")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "outbox: error committing record")
	}

	return nil
}

// Confirm stamps the unconfirmed attempt identified by logical time and
// broker message id with the acknowledgment time.
func (r Repository) Confirm(logicalTime int64, messageId int, at int64) (int64, error) {
	res, err := r.db.Exec(r.queryProvider.ConfirmSql(), at, logicalTime, messageId)
	if err != nil {
		return 0, errors.Wrap(err, "outbox: error confirming record")
	}

	return res.RowsAffected()
}

// Supersede marks an unconfirmed attempt as replaced by a newer one so that it
// is neither resent nor removed by the first attempt cleanup.
func (r Repository) Supersede(id uint) error {
	if _, err := r.db.Exec(r.queryProvider.SupersedeSql(), id); err != nil {
		return errors.Wrapf(err, "outbox: error superseding record %d", id)
	}

	return nil
}

// Unconfirmed returns every attempt still owed to the broker, oldest first.
func (r Repository) Unconfirmed() ([]*Record, error) {
	rows, err := r.db.Query(r.queryProvider.UnconfirmedSql())
	if err != nil {
		return nil, errors.Wrap(err, "outbox: error fetching unconfirmed records")
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec := &Record{}
		err := rows.Scan(&rec.Id, &rec.LogicalTime, &rec.MessageId, &rec.PreviousMessageId, &rec.Qos, &rec.Topic, &rec.Payload, &rec.ProcessedAt, &rec.ConfirmedAt)
		if err != nil {
			return nil, errors.Wrap(err, "outbox: error scanning record into memory")
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "outbox: error iterating unconfirmed records")
	}

	return recs, nil
}

func (r Repository) DeleteConfirmedFirstAttempt() (int64, error) {
	return r.delete(r.queryProvider.DeleteConfirmedFirstAttemptSql())
}

func (r Repository) DeleteConfirmed() (int64, error) {
	return r.delete(r.queryProvider.DeleteConfirmedSql())
}

func (r Repository) DeleteStaleUnconfirmed(processedBefore int64) (int64, error) {
	return r.delete(r.queryProvider.DeleteStaleUnconfirmedSql(), processedBefore)
}

func (r Repository) GetQueueSize() (uint, error) {
	return r.count(r.queryProvider.GetQueueSizeSql())
}

func (r Repository) GetTotalSize() (uint, error) {
	return r.count(r.queryProvider.GetTotalSizeSql())
}

func (r Repository) Ping() error {
	return r.db.Ping()
}

func (r Repository) delete(q string, args ...interface{}) (int64, error) {
	res, err := r.db.Exec(q, args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r Repository) count(q string) (uint, error) {
	res := r.db.QueryRow(q)

	var count uint
	err := res.Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func newQueryProvider(d config.DbDriver, table string, columns []string) queryProvider {
	switch true {
	case d.SQLite():
		return &s.SqliteQueryProvider{
			Table:   table,
			Columns: columns,
		}
	case d.Postgres():
		return &s.PostgresQueryProvider{
			Table:   table,
			Columns: columns,
		}
	case d.MySQL():
		return &s.MysqlQueryProvider{
			Table:   table,
			Columns: columns,
		}
	}

	return nil
}
