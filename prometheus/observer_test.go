package prometheus

import (
	"testing"

	"inviqa/mqtt-outbox-relay/delivery"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ delivery.Observer = Observer{}

func TestObserver(t *testing.T) {
	o := NewObserver("observer-test")

	o.Published("weather")
	o.Published("weather")
	o.Confirmed()
	o.Republished(3)
	o.Cancelled(4)
	o.Drained()

	tests := []struct {
		name string
		got  float64
		exp  float64
	}{
		{"published", testutil.ToFloat64(publishedTotal.WithLabelValues("observer-test", "weather")), 2},
		{"confirmed", testutil.ToFloat64(confirmedTotal.WithLabelValues("observer-test")), 1},
		{"republished", testutil.ToFloat64(republishedTotal.WithLabelValues("observer-test")), 3},
		{"cancelled", testutil.ToFloat64(cancelledTotal.WithLabelValues("observer-test")), 4},
		{"drained", testutil.ToFloat64(drainedTotal.WithLabelValues("observer-test")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.exp {
				t.Errorf("expected %f, but got %f", tt.exp, tt.got)
			}
		})
	}
}
