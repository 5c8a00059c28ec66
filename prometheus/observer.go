package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal   *prom.CounterVec
	confirmedTotal   *prom.CounterVec
	republishedTotal *prom.CounterVec
	cancelledTotal   *prom.CounterVec
	drainedTotal     *prom.CounterVec
)

func init() {
	publishedTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "mqtt_outbox_published_total",
		Help: "Messages handed to the broker",
	}, []string{publisherLabel, "topic"})
	confirmedTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "mqtt_outbox_confirmed_total",
		Help: "Guaranteed messages acknowledged by the broker",
	}, []string{publisherLabel})
	republishedTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "mqtt_outbox_republished_total",
		Help: "Unconfirmed outbox messages sent again",
	}, []string{publisherLabel})
	cancelledTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "mqtt_outbox_cancelled_total",
		Help: "Stale unconfirmed outbox messages dropped without delivery",
	}, []string{publisherLabel})
	drainedTotal = promauto.NewCounterVec(prom.CounterOpts{
		Name: "mqtt_outbox_backlog_drained_total",
		Help: "Rows taken off the backlog",
	}, []string{publisherLabel})
}

// Observer records the delivery outcomes of one publisher.
type Observer struct {
	publisher string
}

func NewObserver(publisher string) Observer {
	return Observer{publisher: publisher}
}

func (o Observer) Published(topic string) {
	publishedTotal.WithLabelValues(o.publisher, topic).Inc()
}

func (o Observer) Confirmed() {
	confirmedTotal.WithLabelValues(o.publisher).Inc()
}

func (o Observer) Republished(count int) {
	republishedTotal.WithLabelValues(o.publisher).Add(float64(count))
}

func (o Observer) Cancelled(count int64) {
	cancelledTotal.WithLabelValues(o.publisher).Add(float64(count))
}

func (o Observer) Drained() {
	drainedTotal.WithLabelValues(o.publisher).Inc()
}
