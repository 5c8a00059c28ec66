package prometheus

import (
	"context"
	"testing"
	"time"

	"inviqa/mqtt-outbox-relay/outbox/test"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSizes(t *testing.T) {
	repo := test.NewMockRepository()
	repo.SetQueueSize(32)
	repo.SetTotalSize(76)

	ctx, cancel := context.WithCancel(context.Background())
	go ObserveSizes(ctx, "queue", repo, time.Millisecond*10)
	time.Sleep(time.Millisecond * 100)
	cancel()

	if actual := testutil.ToFloat64(outboxQueueSize.WithLabelValues("queue")); actual != 32.00 {
		t.Errorf("expected outboxQueueSize to be 32.000000, but got %f", actual)
	}
	if actual := testutil.ToFloat64(outboxTotalSize.WithLabelValues("queue")); actual != 76.00 {
		t.Errorf("expected outboxTotalSize to be 76.000000, but got %f", actual)
	}
}

func TestObserveSizes_WithRepositoryError(t *testing.T) {
	outboxQueueSize.WithLabelValues("live").Set(0.0)
	repo := test.NewMockRepository()
	repo.ReturnErrors()

	ctx, cancel := context.WithCancel(context.Background())
	go ObserveSizes(ctx, "live", repo, time.Millisecond*10)
	time.Sleep(time.Millisecond * 100)
	cancel()

	if actual := testutil.ToFloat64(outboxQueueSize.WithLabelValues("live")); actual != 0.00 {
		t.Errorf("expected outboxQueueSize to be 0.000000, but got %f", actual)
	}
}
