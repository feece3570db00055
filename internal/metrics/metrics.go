package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin runtime
type Metrics struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	PluginLoadsTotal   *prometheus.CounterVec
	PluginUnloadsTotal prometheus.Counter
	PluginsLoaded      prometheus.Gauge

	// Resource metrics
	ResourceAllocations prometheus.Gauge

	// Event bus metrics
	EventsEmittedTotal      *prometheus.CounterVec
	EventHandlerErrorsTotal *prometheus.CounterVec
	PermissionDenialsTotal  *prometheus.CounterVec

	// Plugin-reported metrics
	PluginCounterTotal *prometheus.CounterVec
	PluginObservations *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_loads_total",
				Help: "Total number of plugin load attempts",
			},
			[]string{"result"},
		),
		PluginUnloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_unloads_total",
				Help: "Total number of plugin unloads",
			},
		),
		PluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugins_loaded",
				Help: "Number of currently registered plugins",
			},
		),

		ResourceAllocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_resource_allocations",
				Help: "Number of live plugin resource allocations",
			},
		),

		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_events_emitted_total",
				Help: "Total number of events emitted, by topic namespace",
			},
			[]string{"namespace"},
		),
		EventHandlerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_handler_errors_total",
				Help: "Total number of isolated handler failures, by topic namespace",
			},
			[]string{"namespace"},
		),
		PermissionDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_permission_denials_total",
				Help: "Total number of hook operations denied by plugin permissions",
			},
			[]string{"plugin"},
		),

		PluginCounterTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_custom_counter_total",
				Help: "Counters incremented by plugins",
			},
			[]string{"plugin", "name"},
		),
		PluginObservations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_custom_observation",
				Help:    "Observations recorded by plugins",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin", "name"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.PluginLoadsTotal)
	m.registry.MustRegister(m.PluginUnloadsTotal)
	m.registry.MustRegister(m.PluginsLoaded)

	m.registry.MustRegister(m.ResourceAllocations)

	m.registry.MustRegister(m.EventsEmittedTotal)
	m.registry.MustRegister(m.EventHandlerErrorsTotal)
	m.registry.MustRegister(m.PermissionDenialsTotal)

	m.registry.MustRegister(m.PluginCounterTotal)
	m.registry.MustRegister(m.PluginObservations)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PluginLoaded records a load attempt outcome ("success" or "failure").
func (m *Metrics) PluginLoaded(result string) {
	if m == nil {
		return
	}
	m.PluginLoadsTotal.WithLabelValues(result).Inc()
}

// PluginUnloaded records an unload.
func (m *Metrics) PluginUnloaded() {
	if m == nil {
		return
	}
	m.PluginUnloadsTotal.Inc()
}

// SetPluginsLoaded sets the registered plugin gauge.
func (m *Metrics) SetPluginsLoaded(n int) {
	if m == nil {
		return
	}
	m.PluginsLoaded.Set(float64(n))
}

// AllocationsChanged implements governor.Recorder.
func (m *Metrics) AllocationsChanged(count int) {
	if m == nil {
		return
	}
	m.ResourceAllocations.Set(float64(count))
}

// EventEmitted implements eventbus.Recorder.
func (m *Metrics) EventEmitted(namespace string) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabelValues(namespace).Inc()
}

// HandlerFailed implements eventbus.Recorder.
func (m *Metrics) HandlerFailed(namespace string) {
	if m == nil {
		return
	}
	m.EventHandlerErrorsTotal.WithLabelValues(namespace).Inc()
}

// PermissionDenied records a denied hook operation.
func (m *Metrics) PermissionDenied(pluginID, _ string) {
	if m == nil {
		return
	}
	m.PermissionDenialsTotal.WithLabelValues(pluginID).Inc()
}

// ForPlugin returns the metrics facade handed to one plugin.
func (m *Metrics) ForPlugin(pluginID string) *PluginMetrics {
	return &PluginMetrics{metrics: m, pluginID: pluginID}
}

// ForgetPlugin removes every series a plugin reported.
func (m *Metrics) ForgetPlugin(pluginID string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"plugin": pluginID}
	m.PluginCounterTotal.DeletePartialMatch(labels)
	m.PluginObservations.DeletePartialMatch(labels)
	m.PermissionDenialsTotal.DeletePartialMatch(labels)
}

// PluginMetrics lets a plugin report its own counters and observations.
// Series are labelled with the plugin id.
type PluginMetrics struct {
	metrics  *Metrics
	pluginID string
}

// Inc increments the named counter.
func (p *PluginMetrics) Inc(name string) {
	if p == nil || p.metrics == nil {
		return
	}
	p.metrics.PluginCounterTotal.WithLabelValues(p.pluginID, name).Inc()
}

// Add adds delta to the named counter. Counters only go up, so a negative
// delta is ignored.
func (p *PluginMetrics) Add(name string, delta float64) {
	if p == nil || p.metrics == nil || delta < 0 {
		return
	}
	p.metrics.PluginCounterTotal.WithLabelValues(p.pluginID, name).Add(delta)
}

// Observe records value in the named histogram.
func (p *PluginMetrics) Observe(name string, value float64) {
	if p == nil || p.metrics == nil {
		return
	}
	p.metrics.PluginObservations.WithLabelValues(p.pluginID, name).Observe(value)
}
