// Package metrics holds the prometheus plumbing shared by services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Factory creates metrics registered on a single registry.
type Factory interface {
	NewCounter(opts prometheus.CounterOpts) prometheus.Counter
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge
	NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec
	NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec
}

type factory struct {
	inner promauto.Factory
}

func With(registry *prometheus.Registry) Factory {
	return &factory{inner: promauto.With(registry)}
}

func (f *factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return f.inner.NewCounter(opts)
}

func (f *factory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	return f.inner.NewCounterVec(opts, labelNames)
}

func (f *factory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return f.inner.NewGauge(opts)
}

func (f *factory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	return f.inner.NewGaugeVec(opts, labelNames)
}

func (f *factory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	return f.inner.NewHistogramVec(opts, labelNames)
}

// NewRegistry returns a registry preloaded with the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}
