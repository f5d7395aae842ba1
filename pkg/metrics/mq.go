package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics contains Prometheus metrics for the RabbitMQ client.
type MQMetrics struct {
	MessagesPushed    *prometheus.CounterVec
	PushFailures      *prometheus.CounterVec
	PushDuration      *prometheus.HistogramVec
	ReconnectAttempts prometheus.Counter
	ConnectionStatus  prometheus.Gauge
}

// NewMQMetrics creates and registers MQ client metrics. A nil reg uses Registry.
func NewMQMetrics(reg prometheus.Registerer) *MQMetrics {
	m := &MQMetrics{
		MessagesPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mq",
				Name:      "messages_pushed_total",
				Help:      "Total number of messages confirmed by RabbitMQ",
			},
			[]string{"queue"},
		),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mq",
				Name:      "push_failures_total",
				Help:      "Total number of failed message pushes",
			},
			[]string{"queue", "reason"},
		),
		PushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "mq",
				Name:      "push_duration_seconds",
				Help:      "Duration of confirmed pushes including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "mq",
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "mq",
				Name:      "connection_status",
				Help:      "Current connection status (1=connected, 0=disconnected)",
			},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.MessagesPushed,
		m.PushFailures,
		m.PushDuration,
		m.ReconnectAttempts,
		m.ConnectionStatus,
	)

	return m
}
