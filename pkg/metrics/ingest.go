package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the ingestion worker.
type IngestMetrics struct {
	MessagesTotal      *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	ActiveConsumers    prometheus.Gauge
}

// NewIngestMetrics creates and registers ingestion metrics. A nil reg uses Registry.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Total number of consumed reading messages by outcome",
			},
			[]string{"outcome"}, // outcome: stored, invalid, requeued
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "processing_duration_seconds",
				Help:      "Duration of message processing",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveConsumers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "active_consumers",
				Help:      "Number of active message consumers",
			},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.MessagesTotal,
		m.ProcessingDuration,
		m.ActiveConsumers,
	)

	return m
}
