package job

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	nr "github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/log"
	"inviqa/mqtt-outbox-relay/newrelic"
	"inviqa/mqtt-outbox-relay/outbox/data"
)

type Optimizer interface {
	Execute(ctx context.Context) error
	EnableSideCarProxyQuit(proxyUrl string)
}

// optimizeTable reclaims the space left by deleted ledger rows.
type optimizeTable struct {
	Db        *sql.DB
	TableName string
	Driver    config.DbDriver
	SidecarQuitter
}

func RunOptimize(ctx context.Context, nrApp *nr.Application, db data.DB, sidecarProxyUrl string) int {
	dbCfg := db.Config()
	j := newOptimizeTableWithDefaultClient(db.Connection(), dbCfg.Table, dbCfg.Driver)
	if j == nil {
		log.Logger.WithField("driver", dbCfg.Driver).Error("unable to determine the database driver")
		return 1
	}

	if sidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(sidecarProxyUrl)
	}

	ctx, txn := newrelic.ContextWithTxn(ctx, "job: optimizeTable.Execute()", nrApp)
	defer txn.End()

	if err := j.Execute(ctx); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

func newOptimizeTableWithDefaultClient(db *sql.DB, tableName string, dr config.DbDriver) Optimizer {
	return newOptimizeTable(db, tableName, dr, http.DefaultClient)
}

func newOptimizeTable(db *sql.DB, tableName string, dr config.DbDriver, cl httpPoster) Optimizer {
	if !dr.SQLite() && !dr.MySQL() && !dr.Postgres() {
		return nil
	}

	return &optimizeTable{
		Db:             db,
		TableName:      tableName,
		Driver:         dr,
		SidecarQuitter: SidecarQuitter{Client: cl},
	}
}

func (o *optimizeTable) Execute(ctx context.Context) error {
	operation, stmt := o.statement()
	seg := newrelic.DatastoreSegment(ctx, o.product(), o.TableName, operation)
	_, err := o.Db.ExecContext(ctx, stmt)
	seg.End()

	logger := log.Logger.WithField("driver", o.Driver)
	if err == nil {
		logger.Info("optimized outbox table successfully")
	} else {
		logger.WithError(err).Error("an error occurred optimizing the outbox table")
	}

	return o.QuitIfEnabled(err)
}

// statement returns the operation name and SQL. SQLite can only vacuum the
// whole database file.
func (o *optimizeTable) statement() (string, string) {
	switch {
	case o.Driver.MySQL():
		return "OPTIMIZE TABLE", fmt.Sprintf("OPTIMIZE TABLE %s;", o.TableName)
	case o.Driver.Postgres():
		return "VACUUM", fmt.Sprintf("VACUUM %s;", o.TableName)
	}

	return "VACUUM", "VACUUM;"
}

func (o *optimizeTable) product() nr.DatastoreProduct {
	switch {
	case o.Driver.MySQL():
		return nr.DatastoreMySQL
	case o.Driver.Postgres():
		return nr.DatastorePostgres
	}

	return nr.DatastoreSQLite
}
