package sql

import (
	"fmt"
	"strings"
)

type SqliteQueryProvider struct {
	Table   string
	Columns []string
}

func (p SqliteQueryProvider) InsertSql() string {
	return fmt.Sprintf(`INSERT INTO %s (logical_time, message_id, previous_message_id, qos, topic, payload, processed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, p.Table)
}

func (p SqliteQueryProvider) ReleaseSql() string {
	return fmt.Sprintf(`UPDATE %s SET message_id = 0 WHERE logical_time = ? AND message_id = ? AND confirmed_at IS NULL`, p.Table)
}

func (p SqliteQueryProvider) ConfirmSql() string {
	return fmt.Sprintf(`UPDATE %s SET confirmed_at = ? WHERE logical_time = ? AND message_id = ? AND confirmed_at IS NULL`, p.Table)
}

func (p SqliteQueryProvider) SupersedeSql() string {
	return fmt.Sprintf(`UPDATE %s SET message_id = 0, confirmed_at = 0 WHERE id = ? AND confirmed_at IS NULL`, p.Table)
}

func (p SqliteQueryProvider) UnconfirmedSql() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE confirmed_at IS NULL ORDER BY logical_time ASC, id ASC`, strings.Join(p.Columns, ", "), p.Table)
}

func (p SqliteQueryProvider) DeleteConfirmedFirstAttemptSql() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE confirmed_at > 0 AND previous_message_id = 0`, p.Table)
}

func (p SqliteQueryProvider) DeleteConfirmedSql() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE confirmed_at IS NOT NULL`, p.Table)
}

func (p SqliteQueryProvider) DeleteStaleUnconfirmedSql() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE confirmed_at IS NULL AND processed_at < ?`, p.Table)
}

func (p SqliteQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE confirmed_at IS NULL", p.Table)
}

func (p SqliteQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", p.Table)
}
