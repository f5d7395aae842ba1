package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics contains Prometheus metrics for the device simulator.
type ProducerMetrics struct {
	ReadingsPublished prometheus.Counter
	PublishFailures   *prometheus.CounterVec
	PublishDuration   prometheus.Histogram
	ActiveProducers   prometheus.Gauge
	DevicesSimulated  prometheus.Counter
}

// NewProducerMetrics creates and registers simulator metrics. A nil reg uses Registry.
func NewProducerMetrics(reg prometheus.Registerer) *ProducerMetrics {
	m := &ProducerMetrics{
		ReadingsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "producer",
				Name:      "readings_published_total",
				Help:      "Total number of location readings published",
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "producer",
				Name:      "publish_failures_total",
				Help:      "Total number of readings that could not be published",
			},
			[]string{"reason"}, // reason: marshal_error, push_error
		),
		PublishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "producer",
				Name:      "publish_duration_seconds",
				Help:      "Duration of reading generation and publishing",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "producer",
				Name:      "active_producers",
				Help:      "Number of currently active producers",
			},
		),
		DevicesSimulated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "producer",
				Name:      "devices_simulated_total",
				Help:      "Total number of simulated devices created",
			},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.ReadingsPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveProducers,
		m.DevicesSimulated,
	)

	return m
}
