package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muurk/miiobridge/internal/coordinator"
)

// metrics holds the Prometheus collectors fed from coordinator updates.
type metrics struct {
	registry *prometheus.Registry

	pollsTotal   *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	availability *prometheus.GaugeVec
	entityValue  *prometheus.GaugeVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miiobridge_polls_total",
			Help: "Number of poll cycles per device.",
		}, []string{"device"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miiobridge_poll_failures_total",
			Help: "Number of failed poll cycles per device.",
		}, []string{"device"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "miiobridge_poll_duration_seconds",
			Help:    "Time spent on one poll cycle per device.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device"}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "miiobridge_device_available",
			Help: "Whether the device currently answers polls (1/0).",
		}, []string{"device"}),
		entityValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "miiobridge_property_value",
			Help: "Numeric property values from the last successful poll.",
		}, []string{"device", "property"}),
	}
	m.registry.MustRegister(m.pollsTotal, m.pollFailures, m.pollDuration, m.availability, m.entityValue)
	return m
}

// observe folds one coordinator update into the collectors.
func (m *metrics) observe(update coordinator.Update) {
	m.pollsTotal.WithLabelValues(update.DeviceID).Inc()
	m.pollDuration.WithLabelValues(update.DeviceID).Observe(update.Duration.Seconds())
	if update.Err != nil {
		m.pollFailures.WithLabelValues(update.DeviceID).Inc()
	}

	avail := 0.0
	if update.Available {
		avail = 1.0
	}
	m.availability.WithLabelValues(update.DeviceID).Set(avail)

	for id, v := range update.Status {
		if f, ok := numeric(v); ok {
			m.entityValue.WithLabelValues(update.DeviceID, id).Set(f)
		}
	}
}

// forget drops a removed device's series.
func (m *metrics) forget(deviceID string) {
	labels := prometheus.Labels{"device": deviceID}
	m.pollsTotal.DeletePartialMatch(labels)
	m.pollFailures.DeletePartialMatch(labels)
	m.pollDuration.DeletePartialMatch(labels)
	m.availability.DeletePartialMatch(labels)
	m.entityValue.DeletePartialMatch(labels)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
