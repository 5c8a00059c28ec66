package config

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

const (
	SQLite   DbDriver = "sqlite3"
	MySQL    DbDriver = "mysql"
	Postgres DbDriver = "postgres"
)

type DbDriver string

var supportedDbTypes = map[DbDriver]bool{
	SQLite:   true,
	Postgres: true,
	MySQL:    true,
}

// Database describes one SQL store. For SQLite, Name is the path of the
// database file.
type Database struct {
	Driver            DbDriver `toml:"driver" yaml:"driver"`
	Host              string   `toml:"host" yaml:"host"`
	Port              uint32   `toml:"port" yaml:"port"`
	User              string   `toml:"user" yaml:"user"`
	Password          string   `toml:"password" yaml:"password"`
	Name              string   `toml:"name" yaml:"name"`
	Table             string   `toml:"table" yaml:"table"`
	BusyTimeoutMs     int      `toml:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	TLSEnable         bool     `toml:"tls" yaml:"tls"`
	TLSSkipVerifyPeer bool     `toml:"tls_skip_verify_peer" yaml:"tls_skip_verify_peer"`
}

func (d Database) validate(section string) error {
	if !supportedDbTypes[d.Driver] {
		return errors.Errorf("config: the %s database driver (%s) is not supported", section, d.Driver)
	}
	if d.Name == "" {
		return errors.Errorf("config: the %s database requires a name", section)
	}
	if d.Table == "" {
		return errors.Errorf("config: the %s database requires a table", section)
	}

	return nil
}

// sameTable reports whether d and o address the same table of the same
// database.
func (d Database) sameTable(o Database) bool {
	return d.Driver == o.Driver && d.Host == o.Host && d.Port == o.Port && d.Name == o.Name && d.Table == o.Table
}

func (d Database) GetDSN() string {
	switch d.Driver {
	case SQLite:
		return fmt.Sprintf("file:%s?_busy_timeout=%d", d.Name, d.BusyTimeoutMs)
	case MySQL:
		tls := "false"
		if d.TLSEnable {
			if d.TLSSkipVerifyPeer {
				tls = "skip-verify"
			} else {
				tls = "true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&multiStatements=true", d.User, d.Password, d.Host, d.Port, d.Name, tls)
	case Postgres:
		sslMode := "disable"
		if d.TLSEnable {
			if d.TLSSkipVerifyPeer {
				sslMode = "require"
			} else {
				sslMode = "verify-full"
			}
		}
		return fmt.Sprintf("%s://%s@%s:%d/%s?sslmode=%s", d.Driver, url.UserPassword(d.User, d.Password), d.Host, d.Port, d.Name, sslMode)
	}

	return ""
}

// SQLDriverName is the name the driver is registered under with database/sql.
func (d Database) SQLDriverName() string {
	if d.Driver.Postgres() {
		return "pgx"
	}

	return d.Driver.String()
}

func (d Database) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"Driver":            d.Driver,
		"Host":              d.Host,
		"Port":              d.Port,
		"User":              d.User,
		"Password":          "xxxxx",
		"Name":              d.Name,
		"Table":             d.Table,
		"BusyTimeoutMs":     d.BusyTimeoutMs,
		"TLSEnable":         d.TLSEnable,
		"TLSSkipVerifyPeer": d.TLSSkipVerifyPeer,
	})
}

func (d DbDriver) SQLite() bool {
	return d == SQLite
}

func (d DbDriver) MySQL() bool {
	return d == MySQL
}

func (d DbDriver) Postgres() bool {
	return d == Postgres
}

func (d DbDriver) String() string {
	return string(d)
}
