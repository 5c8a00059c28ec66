package intake

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/transform"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestDrainer_DrainOne(t *testing.T) {
	t.Run("it deletes the row before publishing it", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{"outTemp": 20}`))
		p := &fakePublisher{backlog: b}
		d := newTestDrainer(t, b, p)

		ok, err := d.DrainOne()
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if !ok {
			t.Error("expected a row to be consumed")
		}
		if len(p.published) != 1 || p.published[0] != 600 {
			t.Errorf("expected the row to be published, but got %v", p.published)
		}
		if !p.deletedBeforePublish {
			t.Error("expected the row to be deleted before it was published")
		}
	})

	t.Run("a failed publish does not put the row back", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{"outTemp": 20}`))
		p := &fakePublisher{err: errors.New("disk I/O error")}
		d := newTestDrainer(t, b, p)

		if _, err := d.DrainOne(); err == nil {
			t.Error("expected an error, but got nil")
		}
		if len(b.entries) != 0 {
			t.Errorf("expected the row to stay deleted, but %d remain", len(b.entries))
		}
	})

	t.Run("an empty backlog consumes nothing", func(t *testing.T) {
		d := newTestDrainer(t, newFakeBacklog(), &fakePublisher{})

		ok, err := d.DrainOne()
		if ok || err != nil {
			t.Errorf("expected false, nil but got %t, %v", ok, err)
		}
	})

	t.Run("a locked backlog is skipped without publishing", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{}`))
		b.deleteErr = errors.New("database is locked")
		p := &fakePublisher{}
		d := newTestDrainer(t, b, p)

		ok, err := d.DrainOne()
		if ok || err != nil {
			t.Errorf("expected false, nil but got %t, %v", ok, err)
		}
		if len(p.published) != 0 {
			t.Error("expected nothing to be published")
		}
	})

	t.Run("other delete errors are returned", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{}`))
		b.deleteErr = errors.New("no such table: archive")

		if _, err := newTestDrainer(t, b, &fakePublisher{}).DrainOne(); err == nil {
			t.Error("expected an error, but got nil")
		}
	})

	t.Run("unknown kinds and bad data are dropped", func(t *testing.T) {
		b := newFakeBacklog(entry(600, "report", `{}`), entry(700, transform.Archive, `not json`))
		p := &fakePublisher{}
		d := newTestDrainer(t, b, p)

		for i := 0; i < 2; i++ {
			if ok, err := d.DrainOne(); !ok || err != nil {
				t.Errorf("expected true, nil but got %t, %v", ok, err)
			}
		}
		if len(p.published) != 0 || len(b.entries) != 0 {
			t.Errorf("expected both rows to be dropped")
		}
	})
}

func TestDrainer_Catchup(t *testing.T) {
	t.Run("it drains whole snapshots while above the threshold", func(t *testing.T) {
		b := newFakeBacklog(
			entry(900, transform.Loop, `{}`),
			entry(600, transform.Loop, `{}`),
			entry(700, transform.Archive, `{}`),
		)
		p := &fakePublisher{}
		d := newTestDrainer(t, b, p)

		n, err := d.Catchup(context.Background(), 2)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if n != 3 {
			t.Errorf("expected 3 consumed rows, but got %d", n)
		}
		if len(p.published) != 3 || p.published[0] != 600 || p.published[2] != 900 {
			t.Errorf("expected rows in timestamp order, but got %v", p.published)
		}
		if p.waits != 1 {
			t.Errorf("expected to wait for in-flight messages once, but got %d", p.waits)
		}
	})

	t.Run("rows added during a batch are left for the next count", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{}`), entry(700, transform.Loop, `{}`))
		p := &fakePublisher{backlog: b, produce: []*Entry{entry(800, transform.Loop, `{}`)}}
		d := newTestDrainer(t, b, p)

		n, err := d.Catchup(context.Background(), 1)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if n != 2 {
			t.Errorf("expected the first batch to be bounded by its snapshot, but got %d", n)
		}
		if len(b.entries) != 1 || b.entries[0].LogicalTime != 800 {
			t.Errorf("expected the new row to remain, but got %+v", b.entries)
		}
		if b.counts != 2 {
			t.Errorf("expected the backlog to be counted twice, but got %d", b.counts)
		}
	})

	t.Run("it does nothing at or below the threshold", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{}`))
		p := &fakePublisher{}

		n, err := newTestDrainer(t, b, p).Catchup(context.Background(), 1)
		if n != 0 || err != nil {
			t.Errorf("expected 0, nil but got %d, %v", n, err)
		}
	})

	t.Run("a locked backlog postpones the catchup", func(t *testing.T) {
		b := newFakeBacklog(entry(600, transform.Loop, `{}`), entry(700, transform.Loop, `{}`))
		b.deleteErr = errors.New("database is locked")

		n, err := newTestDrainer(t, b, &fakePublisher{}).Catchup(context.Background(), 0)
		if n != 0 || err != nil {
			t.Errorf("expected 0, nil but got %d, %v", n, err)
		}
	})
}

func newTestDrainer(t *testing.T, b backlog, p publisher) *Drainer {
	t.Helper()

	ts, err := transform.Load(config.TopicConfig{}, []config.TopicConfig{{Name: "weather"}})
	if err != nil {
		t.Fatalf("unexpected error loading topics: %s", err)
	}
	logger, _ := logtest.NewNullLogger()

	return NewDrainer(b, transform.NewRouter(ts), p, logger, nil, Options{InflightAttempts: 1, InflightWait: time.Millisecond})
}

func entry(ts int64, kind transform.Kind, data string) *Entry {
	return &Entry{LogicalTime: ts, Kind: kind, Data: []byte(data)}
}

type fakeBacklog struct {
	entries   []*Entry
	deleteErr error
	counts    int
	deleted   map[int64]bool
}

func newFakeBacklog(entries ...*Entry) *fakeBacklog {
	b := &fakeBacklog{deleted: map[int64]bool{}}
	for _, e := range entries {
		b.add(e)
	}

	return b
}

func (b *fakeBacklog) add(e *Entry) {
	b.entries = append(b.entries, e)
	sort.Slice(b.entries, func(i, j int) bool {
		return b.entries[i].LogicalTime < b.entries[j].LogicalTime
	})
}

func (b *fakeBacklog) Oldest() (*Entry, error) {
	if len(b.entries) == 0 {
		return nil, nil
	}

	return b.entries[0], nil
}

func (b *fakeBacklog) Snapshot() ([]*Entry, error) {
	return append([]*Entry(nil), b.entries...), nil
}

func (b *fakeBacklog) Count() (int, error) {
	b.counts++
	return len(b.entries), nil
}

func (b *fakeBacklog) Delete(logicalTime int64) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}

	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.LogicalTime != logicalTime {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	b.deleted[logicalTime] = true

	return nil
}

type fakePublisher struct {
	backlog              *fakeBacklog
	produce              []*Entry
	published            []int64
	deletedBeforePublish bool
	waits                int
	err                  error
}

func (p *fakePublisher) PublishAll(logicalTime int64, _ []transform.Publication) error {
	if p.err != nil {
		return p.err
	}
	if p.backlog != nil {
		p.deletedBeforePublish = p.backlog.deleted[logicalTime]
		for _, e := range p.produce {
			p.backlog.add(e)
		}
		p.produce = nil
	}
	p.published = append(p.published, logicalTime)

	return nil
}

func (p *fakePublisher) WaitForInflight(context.Context, int, time.Duration) error {
	p.waits++
	return nil
}
