// Package producer simulates location-reporting devices and publishes their
// readings to the ingestion queue.
package producer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/alertnav/pkg/generator"
	"procodus.dev/alertnav/pkg/metrics"
	"procodus.dev/alertnav/pkg/mq"
	"procodus.dev/alertnav/pkg/wire"
)

const maxDevicesPerProducer = 5

// Producer owns a handful of simulated devices and publishes one reading per
// call to Publish. It is not safe for concurrent use.
type Producer struct {
	publisher mq.Publisher
	devices   []*generator.Device
	area      generator.Area
	owner     string
	now       func() time.Time
	metrics   *metrics.ProducerMetrics
}

// NewProducer creates a producer with between one and five devices placed in
// area. owner is stamped on every reading when non-empty. m may be nil.
func NewProducer(publisher mq.Publisher, area generator.Area, owner string, m *metrics.ProducerMetrics) (*Producer, error) {
	count := rand.IntN(maxDevicesPerProducer) + 1 // #nosec G404 - simulation data
	devices := make([]*generator.Device, 0, count)
	for range count {
		d, err := generator.NewDevice(area)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	if m != nil {
		m.DevicesSimulated.Add(float64(count))
	}

	return &Producer{
		publisher: publisher,
		devices:   devices,
		area:      area,
		owner:     owner,
		now:       time.Now,
		metrics:   m,
	}, nil
}

// Devices returns the simulated devices.
func (p *Producer) Devices() []*generator.Device {
	return p.devices
}

// Publish moves a random device and pushes its reading.
func (p *Producer) Publish(ctx context.Context) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration)
		defer timer.ObserveDuration()
	}

	device := p.devices[rand.IntN(len(p.devices))] // #nosec G404
	reading := device.Reading(p.area, p.now(), p.owner)

	message, err := wire.Encode(reading)
	if err != nil {
		p.countFailure("marshal_error")
		return fmt.Errorf("encode reading for %s: %w", device.DeviceID, err)
	}

	if err := p.publisher.Push(ctx, message); err != nil {
		p.countFailure("push_error")
		return fmt.Errorf("publish reading for %s: %w", device.DeviceID, err)
	}

	if p.metrics != nil {
		p.metrics.ReadingsPublished.Inc()
	}
	return nil
}

func (p *Producer) countFailure(reason string) {
	if p.metrics != nil {
		p.metrics.PublishFailures.WithLabelValues(reason).Inc()
	}
}
