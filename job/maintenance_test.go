package job

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	btest "inviqa/mqtt-outbox-relay/broker/test"
	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/delivery"
	"inviqa/mqtt-outbox-relay/job/test"
	"inviqa/mqtt-outbox-relay/outbox"
	outboxtest "inviqa/mqtt-outbox-relay/outbox/test"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestTasksFor(t *testing.T) {
	cfg := &config.Config{RunClean: true, RunDeepClean: true, RunCancel: true, RunRepublish: true}

	exp := []Task{Republish, Cancel, Clean, DeepClean}
	if got := TasksFor(cfg); !reflect.DeepEqual(exp, got) {
		t.Errorf("expected %v, but got %v", exp, got)
	}

	if got := TasksFor(&config.Config{}); len(got) != 0 {
		t.Errorf("expected no tasks, but got %v", got)
	}
}

func TestMaintenance_Execute(t *testing.T) {
	t.Run("it cleans and cancels", func(t *testing.T) {
		repo := outboxtest.NewMockRepository()
		repo.AddRecord(outbox.Record{LogicalTime: 1, MessageId: 1, ConfirmedAt: sql.NullInt64{Int64: 5, Valid: true}})
		repo.AddRecord(outbox.Record{LogicalTime: 2, MessageId: 2, PreviousMessageId: 9, ConfirmedAt: sql.NullInt64{Int64: 5, Valid: true}})
		repo.AddRecord(outbox.Record{LogicalTime: 3, MessageId: 3, ProcessedAt: 1})
		cl := test.NewMockHttpClient()

		j := newMaintenance(newTestEngine(btest.NewMockClient(), repo), []Task{Cancel, Clean}, time.Hour, cl)
		if err := j.Execute(context.Background()); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		recs := repo.Records()
		if len(recs) != 1 || recs[0].LogicalTime != 2 {
			t.Errorf("expected only the retried record to remain, but got %+v", recs)
		}
		if len(cl.SentReqs) > 0 {
			t.Errorf("unexpected call to sidecar proxy /quitquitquit")
		}
	})

	t.Run("it republishes over a fresh session", func(t *testing.T) {
		repo := outboxtest.NewMockRepository()
		repo.AddRecord(outbox.Record{LogicalTime: 1, MessageId: 4, Qos: 1, Topic: "weather"})
		client := btest.NewMockClient()
		client.AutoAck = true

		j := newMaintenance(newTestEngine(client, repo), []Task{Republish}, time.Hour, test.NewMockHttpClient())
		if err := j.Execute(context.Background()); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}

		if len(client.SentMessages()) != 1 {
			t.Errorf("expected 1 republished message, but got %d", len(client.SentMessages()))
		}
		if client.DisconnectCalls != 1 {
			t.Errorf("expected the session to be closed, but got %d disconnects", client.DisconnectCalls)
		}
	})

	t.Run("a refused connection fails the job and still quits the sidecar", func(t *testing.T) {
		client := btest.NewMockClient()
		client.FailConnect = true
		cl := test.NewMockHttpClient()

		j := newMaintenance(newTestEngine(client, outboxtest.NewMockRepository()), []Task{Republish}, time.Hour, cl)
		j.EnableSideCarProxyQuit("http://localhost:15000")
		if err := j.Execute(context.Background()); err == nil {
			t.Error("expected an error, but got nil")
		}
		if !cl.SentReqs["http://localhost:15000/quitquitquit"] {
			t.Error("expected a call to sidecar proxy http://localhost:15000/quitquitquit")
		}
	})

	t.Run("a ledger error fails the job", func(t *testing.T) {
		repo := outboxtest.NewMockRepository()
		repo.ReturnErrors()

		j := newMaintenance(newTestEngine(btest.NewMockClient(), repo), []Task{DeepClean}, time.Hour, test.NewMockHttpClient())
		if err := j.Execute(context.Background()); err == nil {
			t.Error("expected an error, but got nil")
		}
	})
}

func newTestEngine(client *btest.MockClient, repo *outboxtest.MockRepository) *delivery.Engine {
	logger, _ := logtest.NewNullLogger()

	return delivery.New(client, repo, logger, nil, delivery.Options{
		ConnectAttempts:  3,
		ConnectWait:      time.Millisecond * 20,
		InflightAttempts: 3,
		InflightWait:     time.Millisecond * 10,
		RepublishPasses:  3,
	})
}
