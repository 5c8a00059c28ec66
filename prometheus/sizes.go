package prometheus

import (
	"context"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"inviqa/mqtt-outbox-relay/log"
)

const publisherLabel = "publisher"

var (
	outboxQueueSize *prom.GaugeVec
	outboxTotalSize *prom.GaugeVec
)

type Sizer interface {
	GetQueueSize() (uint, error)
	GetTotalSize() (uint, error)
}

func init() {
	outboxQueueSize = promauto.NewGaugeVec(prom.GaugeOpts{
		Name: "mqtt_outbox_queue_size",
		Help: "The number of unconfirmed messages in the outbox",
	}, []string{publisherLabel})
	outboxTotalSize = promauto.NewGaugeVec(prom.GaugeOpts{
		Name: "mqtt_outbox_total_size",
		Help: "The total size of the outbox (all messages)",
	}, []string{publisherLabel})
}

// ObserveSizes samples the outbox of a publisher every interval until ctx is
// done.
func ObserveSizes(ctx context.Context, publisher string, sizer Sizer, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		observeSizes(publisher, sizer)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func observeSizes(publisher string, sizer Sizer) {
	logger := log.ForPublisher(publisher)

	if size, err := sizer.GetQueueSize(); err != nil {
		logger.WithError(err).Error("an error occurred determining the size of the queue")
	} else {
		outboxQueueSize.WithLabelValues(publisher).Set(float64(size))
	}

	if size, err := sizer.GetTotalSize(); err != nil {
		logger.WithError(err).Error("an error occurred determining the total size of the outbox")
	} else {
		outboxTotalSize.WithLabelValues(publisher).Set(float64(size))
	}
}
