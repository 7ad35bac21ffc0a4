// Package metrics collects Prometheus metrics of provisioning and extraction
// runs. A run is short lived, so the metrics are written to a file for the
// node exporter textfile collector instead of being served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusFound   = "found"
	statusMissing = "missing"
)

// Metrics holds all Prometheus metrics of one fmntools run
type Metrics struct {
	registry *prometheus.Registry

	// Command metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Settings image metrics
	recordsWritten    prometheus.Counter
	settingsImageSize prometheus.Gauge

	// Extraction metrics
	fieldsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics on a registry of their own
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fmntools_operations_total",
				Help: "Total number of provisioning and extraction runs",
			},
			[]string{"operation", "status"},
		),

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fmntools_operation_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		recordsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fmntools_settings_records_written_total",
				Help: "Key/value record pairs written into settings images",
			},
		),

		settingsImageSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fmntools_settings_image_bytes",
				Help: "Size of the last settings image in bytes",
			},
		),

		fieldsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fmntools_extracted_fields_total",
				Help: "Provisioned fields looked up during extraction",
			},
			[]string{"field", "status"},
		),
	}
}

// RecordOperation records a finished run
func (m *Metrics) RecordOperation(operation string, success bool, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordImage records a built settings image
func (m *Metrics) RecordImage(records, size int) {
	m.recordsWritten.Add(float64(records))
	m.settingsImageSize.Set(float64(size))
}

// RecordField records whether an extracted field was present
func (m *Metrics) RecordField(field string, found bool) {
	status := statusFound
	if !found {
		status = statusMissing
	}
	m.fieldsTotal.WithLabelValues(field, status).Inc()
}

// Gatherer exposes the registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteToTextfile writes the metrics in the text exposition format
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
