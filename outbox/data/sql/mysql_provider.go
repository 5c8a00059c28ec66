package sql

import (
	"fmt"
	"strings"
)

type MysqlQueryProvider struct {
	Table   string
	Columns []string
}

func (m MysqlQueryProvider) InsertSql() string {
	q := "INSERT INTO `%s` (`logical_time`, `message_id`, `previous_message_id`, `qos`, `topic`, `payload`, `processed_at`) VALUES (?, ?, ?, ?, ?, ?, ?)"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) ReleaseSql() string {
	q := "UPDATE `%s` SET `message_id` = 0 WHERE `logical_time` = ? AND `message_id` = ? AND `confirmed_at` IS NULL"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) ConfirmSql() string {
	q := "UPDATE `%s` SET `confirmed_at` = ? WHERE `logical_time` = ? AND `message_id` = ? AND `confirmed_at` IS NULL"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) SupersedeSql() string {
	q := "UPDATE `%s` SET `message_id` = 0, `confirmed_at` = 0 WHERE `id` = ? AND `confirmed_at` IS NULL"

	return fmt.Sprintf(q, m.Table)
}

func (m MysqlQueryProvider) UnconfirmedSql() string {
	q := "SELECT %s FROM `%s` WHERE `confirmed_at` IS NULL ORDER BY `logical_time` ASC, `id` ASC"

	return fmt.Sprintf(q, strings.Join(m.escapeColumns(), ", "), m.Table)
}

func (m MysqlQueryProvider) DeleteConfirmedFirstAttemptSql() string {
	return fmt.Sprintf("DELETE FROM `%s` WHERE `confirmed_at` > 0 AND `previous_message_id` = 0", m.Table)
}

func (m MysqlQueryProvider) DeleteConfirmedSql() string {
	return fmt.Sprintf("DELETE FROM `%s` WHERE `confirmed_at` IS NOT NULL", m.Table)
}

func (m MysqlQueryProvider) DeleteStaleUnconfirmedSql() string {
	return fmt.Sprintf("DELETE FROM `%s` WHERE `confirmed_at` IS NULL AND `processed_at` < ?", m.Table)
}

func (m MysqlQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE `confirmed_at` IS NULL", m.Table)
}

func (m MysqlQueryProvider) GetTotalSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s`", m.Table)
}

func (m MysqlQueryProvider) escapeColumns() []string {
	var escaped []string
	for _, c := range m.Columns {
		escaped = append(escaped, "`"+c+"`")
	}

	return escaped
}
