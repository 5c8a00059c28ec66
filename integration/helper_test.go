//go:build integration
// +build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	btest "inviqa/mqtt-outbox-relay/broker/test"
	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/delivery"
	"inviqa/mqtt-outbox-relay/intake"
	"inviqa/mqtt-outbox-relay/outbox"
	"inviqa/mqtt-outbox-relay/outbox/data"
	"inviqa/mqtt-outbox-relay/transform"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const (
	ledgerTable  = "mqtt_outbox"
	backlogTable = "archive"
)

var engineOptions = delivery.Options{
	ConnectAttempts:  5,
	ConnectWait:      time.Millisecond * 10,
	InflightAttempts: 20,
	InflightWait:     time.Millisecond * 10,
	RepublishPasses:  3,
}

func openLedger(t *testing.T) (data.DB, outbox.Repository) {
	t.Helper()

	cfg := config.Database{
		Driver:        config.SQLite,
		Name:          filepath.Join(t.TempDir(), "ledger.sdb"),
		Table:         ledgerTable,
		BusyTimeoutMs: 1000,
	}
	db, err := data.OpenLedger(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("an error occurred opening the ledger for integration tests: %s", err)
	}

	return db, outbox.NewRepository(db.Connection(), cfg)
}

func openBacklog(t *testing.T) (data.DB, *intake.Backlog) {
	t.Helper()

	cfg := config.Database{
		Driver: config.SQLite,
		Name:   filepath.Join(t.TempDir(), "backlog.sdb"),
		Table:  backlogTable,
	}
	db, err := data.OpenBacklog(context.Background(), cfg)
	if err != nil {
		t.Fatalf("an error occurred opening the backlog for integration tests: %s", err)
	}

	q := fmt.Sprintf("CREATE TABLE %s (dateTime INTEGER PRIMARY KEY, dataType TEXT NOT NULL, data TEXT NOT NULL);", backlogTable)
	if _, err := db.Connection().Exec(q); err != nil {
		t.Fatalf("an error occurred creating the backlog table: %s", err)
	}

	return db, intake.NewBacklog(db.Connection(), cfg)
}

func insertBacklogRow(db *sql.DB, logicalTime int64, kind transform.Kind, record string) {
	q := fmt.Sprintf("INSERT INTO %s (dateTime, dataType, data) VALUES (?, ?, ?);", backlogTable)
	if _, err := db.Exec(q, logicalTime, string(kind), record); err != nil {
		panic(fmt.Sprintf("failed to insert backlog row: %s", err))
	}
}

func newRouter(t *testing.T) *transform.Router {
	t.Helper()

	qos := 1
	guarantee := true
	ts, err := transform.Load(config.TopicConfig{Qos: &qos, GuaranteeDelivery: &guarantee}, []config.TopicConfig{
		{Name: "weather/loop", Binding: []string{"loop"}},
		{Name: "weather/archive", Binding: []string{"archive"}},
	})
	if err != nil {
		t.Fatalf("invalid topic configuration: %s", err)
	}

	return transform.NewRouter(ts)
}

func newEngine(client *btest.MockClient, repo outbox.Repository) *delivery.Engine {
	return delivery.New(client, repo, discardLogger(), delivery.NopObserver{}, engineOptions)
}

func unconfirmed(repo outbox.Repository) []*outbox.Record {
	recs, err := repo.Unconfirmed()
	if err != nil {
		panic(fmt.Sprintf("failed to read unconfirmed ledger rows: %s", err))
	}

	return recs
}

func totalSize(repo outbox.Repository) uint {
	n, err := repo.GetTotalSize()
	if err != nil {
		panic(fmt.Sprintf("failed to count ledger rows: %s", err))
	}

	return n
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond * 10)
	}

	return cond()
}

func discardLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}
