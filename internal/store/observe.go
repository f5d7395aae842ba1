package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/alertnav/pkg/metrics"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("record not found")

// observe runs fn and records its outcome under operation when m is set.
func observe(m *metrics.StoreMetrics, operation string, fn func() error) error {
	if m == nil {
		return fn()
	}

	timer := prometheus.NewTimer(m.OperationDuration.WithLabelValues(operation))
	err := fn()
	timer.ObserveDuration()

	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()

	return err
}
