package intake

import (
	"database/sql"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/transform"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

const (
	timeColumn = "dateTime"
	kindColumn = "dataType"
	dataColumn = "data"
)

// Entry is one row of the backlog table. Data holds the record as a JSON
// object.
type Entry struct {
	LogicalTime int64
	Kind        transform.Kind
	Data        []byte
}

// Backlog reads and consumes the backlog table written by an external
// producer.
type Backlog struct {
	db    *sql.DB
	table string
	sb    sq.StatementBuilderType
}

func NewBacklog(db *sql.DB, cfg config.Database) *Backlog {
	var ph sq.PlaceholderFormat = sq.Question
	if cfg.Driver.Postgres() {
		ph = sq.Dollar
	}

	return &Backlog{
		db:    db,
		table: cfg.Table,
		sb:    sq.StatementBuilder.PlaceholderFormat(ph),
	}
}

// Oldest returns the row with the lowest timestamp, or nil when the backlog
// is empty.
func (b *Backlog) Oldest() (*Entry, error) {
	q, args, err := b.selectEntries().Limit(1).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "intake: error building backlog query")
	}

	e := &Entry{}
	err = b.db.QueryRow(q, args...).Scan(&e.LogicalTime, &e.Kind, &e.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "intake: error fetching the oldest backlog row")
	}

	return e, nil
}

// Snapshot returns every row currently in the backlog in timestamp order.
func (b *Backlog) Snapshot() ([]*Entry, error) {
	q, args, err := b.selectEntries().ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "intake: error building backlog query")
	}

	rows, err := b.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "intake: error fetching backlog rows")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.LogicalTime, &e.Kind, &e.Data); err != nil {
			return nil, errors.Wrap(err, "intake: error scanning backlog row")
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (b *Backlog) Count() (int, error) {
	q, args, err := b.sb.Select("COUNT(*)").From(b.table).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "intake: error building backlog count")
	}

	var n int
	if err := b.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "intake: error counting backlog rows")
	}

	return n, nil
}

// Delete removes the row with the given timestamp. Lock contention is
// detectable with data.IsLocked.
func (b *Backlog) Delete(logicalTime int64) error {
	q, args, err := b.sb.Delete(b.table).Where(sq.Eq{timeColumn: logicalTime}).ToSql()
	if err != nil {
		return errors.Wrap(err, "intake: error building backlog delete")
	}

	if _, err := b.db.Exec(q, args...); err != nil {
		return errors.Wrapf(err, "intake: error deleting backlog row %d", logicalTime)
	}

	return nil
}

func (b *Backlog) selectEntries() sq.SelectBuilder {
	return b.sb.Select(timeColumn, kindColumn, dataColumn).From(b.table).OrderBy(timeColumn + " ASC")
}
