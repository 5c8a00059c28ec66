package sql

import (
	"fmt"
	"strings"
)

type PostgresQueryProvider struct {
	Table   string
	Columns []string
}

func (m PostgresQueryProvider) InsertSql() string {
	q := `INSERT INTO %s (logical_time, message_id, previous_message_id, qos, topic, payload, processed_at) VALUES (%s)`

	var placeholders []string
	for i := 1; i <= 7; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}

	return fmt.Sprintf(q, m.Table, strings.Join(placeholders, ", "))
}

func (m PostgresQueryProvider) ReleaseSql() string {
	return fmt.Sprintf(`UPDATE %s SET message_id = 0 WHERE logical_time = $1 AND message_id = $2 AND confirmed_at IS NULL`, m.Table)
}

func (m PostgresQueryProvider) ConfirmSql() string {
	return fmt.Sprintf(`UPDATE %s SET confirmed_at = $1 WHERE logical_time = $2 AND message_id = $3 AND confirmed_at IS NULL`, m.Table)
}

func (m PostgresQueryProvider) SupersedeSql() string {
	return fmt.Sprintf(`UPDATE %s SET message_id = 0, confirmed_at = 0 WHERE id = $1 AND confirmed_at IS NULL`, m.Table)
}

func (m PostgresQueryProvider) UnconfirmedSql() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE confirmed_at IS NULL ORDER BY logical_time ASC, id ASC`, strings.Join(m.Columns, ", "), m.Table)
}

func (m PostgresQueryProvider) DeleteConfirmedFirstAttemptSql() string {
	return fmt.Sprintf("DELETE FROM %s WHERE confirmed_at > 0 AND previous_message_id = 0", m.Table)
}

func (m PostgresQueryProvider) DeleteConfirmedSql() string {
	return fmt.Sprintf("DELETE FROM %s WHERE confirmed_at IS NOT NULL", m.Table)
}

func (m PostgresQueryProvider) DeleteStaleUnconfirmedSql() string {
	return fmt.Sprintf("DELETE FROM %s WHERE confirmed_at IS NULL AND processed_at < $1", m.Table)
}

func (m PostgresQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE confirmed_at IS NULL", m.Table)
}

func (m PostgresQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", m.Table)
}
