// Package observability provides Prometheus metrics for the pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the metric collectors for the application, backed by a
// dedicated registry so tests can run isolated instances.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *PipelineMetrics
}

// NewMetrics creates a new instance of Metrics with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipeline, err := NewPipelineMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{registry: registry, Pipeline: pipeline}, nil
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
