package eventbus

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the bus's Prometheus instrumentation: one CounterVec per
// concern, labeled by run and event kind.
type Metrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewMetrics registers the bus's counters against reg and returns a Metrics
// ready to pass to New.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conclave",
			Subsystem: "eventbus",
			Name:      "events_published_total",
			Help:      "Total events published on a run's event bus, by kind.",
		}, []string{"run_id", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conclave",
			Subsystem: "eventbus",
			Name:      "subscribers_dropped_total",
			Help:      "Total subscribers disconnected for falling behind (slow_consumer).",
		}, []string{"run_id"}),
	}
	for _, c := range []prometheus.Collector{m.published, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observePublish(runID, kind string) {
	m.published.WithLabelValues(runID, kind).Inc()
}

func (m *Metrics) observeDropped(runID string, n int) {
	m.dropped.WithLabelValues(runID).Add(float64(n))
}
