package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtrack_observer_events_total",
			Help: "Total number of experiment events handled",
		},
		[]string{"event"},
	)

	eventFailureCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtrack_observer_event_failures_total",
			Help: "Total number of experiment events whose tracking calls failed",
		},
		[]string{"event"},
	)

	unsupportedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtrack_observer_unsupported_results_total",
			Help: "Total number of result values skipped because of their type",
		},
	)

	digestCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runtrack_observer_resource_digests_total",
			Help: "Total number of resource files digested",
		},
	)
)

// observe counts one handled event and, when err is non-nil, one failure.
func observe(event string, err error) error {
	eventCounter.WithLabelValues(event).Inc()
	if err != nil {
		eventFailureCounter.WithLabelValues(event).Inc()
	}
	return err
}
