package intake

import (
	"errors"
	"regexp"
	"testing"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/transform"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestBacklog_Oldest(t *testing.T) {
	db, mock, _ := sqlmock.New()
	b := NewBacklog(db, config.Database{Driver: config.SQLite, Table: "archive"})

	q := regexp.QuoteMeta("SELECT dateTime, dataType, data FROM archive ORDER BY dateTime ASC LIMIT 1")

	t.Run("it returns the oldest row", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"dateTime", "dataType", "data"}).AddRow(600, "loop", []byte(`{"a":1}`))
		mock.ExpectQuery(q).WillReturnRows(rows)

		e, err := b.Oldest()
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if e.LogicalTime != 600 || e.Kind != transform.Loop || string(e.Data) != `{"a":1}` {
			t.Errorf("unexpected entry %+v", e)
		}
	})

	t.Run("it returns nil when the backlog is empty", func(t *testing.T) {
		mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"dateTime", "dataType", "data"}))

		e, err := b.Oldest()
		if err != nil || e != nil {
			t.Errorf("expected nil, nil but got %+v, %v", e, err)
		}
	})

	t.Run("it returns query errors", func(t *testing.T) {
		mock.ExpectQuery(q).WillReturnError(errors.New("oops"))

		if _, err := b.Oldest(); err == nil {
			t.Error("expected an error, but got nil")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestBacklog_Snapshot(t *testing.T) {
	db, mock, _ := sqlmock.New()
	b := NewBacklog(db, config.Database{Driver: config.MySQL, Table: "archive"})

	rows := sqlmock.NewRows([]string{"dateTime", "dataType", "data"}).
		AddRow(600, "loop", []byte(`{}`)).
		AddRow(900, "archive", []byte(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT dateTime, dataType, data FROM archive ORDER BY dateTime ASC")).WillReturnRows(rows)

	entries, err := b.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(entries) != 2 || entries[1].LogicalTime != 900 || entries[1].Kind != transform.Archive {
		t.Errorf("unexpected entries %+v", entries)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestBacklog_Count(t *testing.T) {
	db, mock, _ := sqlmock.New()
	b := NewBacklog(db, config.Database{Driver: config.SQLite, Table: "archive"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM archive")).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := b.Count()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n != 12 {
		t.Errorf("expected 12 rows, but got %d", n)
	}
}

func TestBacklog_Delete(t *testing.T) {
	tests := []struct {
		name   string
		driver config.DbDriver
		query  string
	}{
		{
			name:   "sqlite placeholders",
			driver: config.SQLite,
			query:  "DELETE FROM archive WHERE dateTime = ?",
		},
		{
			name:   "postgres placeholders",
			driver: config.Postgres,
			query:  "DELETE FROM archive WHERE dateTime = $1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, _ := sqlmock.New()
			b := NewBacklog(db, config.Database{Driver: tt.driver, Table: "archive"})

			mock.ExpectExec(regexp.QuoteMeta(tt.query)).WithArgs(int64(600)).WillReturnResult(sqlmock.NewResult(0, 1))

			if err := b.Delete(600); err != nil {
				t.Errorf("unexpected error: %s", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}
