package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	// Verify lifecycle metrics
	if m.PluginLoadsTotal == nil {
		t.Error("PluginLoadsTotal is nil")
	}
	if m.PluginUnloadsTotal == nil {
		t.Error("PluginUnloadsTotal is nil")
	}
	if m.PluginsLoaded == nil {
		t.Error("PluginsLoaded is nil")
	}

	// Verify event bus metrics
	if m.EventsEmittedTotal == nil {
		t.Error("EventsEmittedTotal is nil")
	}
	if m.EventHandlerErrorsTotal == nil {
		t.Error("EventHandlerErrorsTotal is nil")
	}
	if m.PermissionDenialsTotal == nil {
		t.Error("PermissionDenialsTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.PluginLoaded("success")
	m.PluginUnloaded()
	m.SetPluginsLoaded(2)
	m.AllocationsChanged(2)
	m.EventEmitted("system")
	m.HandlerFailed("system")
	m.PermissionDenied("pub.chive.plugin.x", "review.created")
	m.ForPlugin("pub.chive.plugin.x").Inc("lookups")
	m.ForPlugin("pub.chive.plugin.x").Observe("latency", 0.2)

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"plugin_loads_total",
		"plugin_unloads_total",
		"plugins_loaded",
		"plugin_resource_allocations",
		"eventbus_events_emitted_total",
		"eventbus_handler_errors_total",
		"plugin_permission_denials_total",
		"plugin_custom_counter_total",
		"plugin_custom_observation",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.EventEmitted("review")
	m.EventEmitted("review")
	m.EventEmitted("system")
	m.HandlerFailed("review")
	m.AllocationsChanged(3)

	if got := testutil.ToFloat64(m.EventsEmittedTotal.WithLabelValues("review")); got != 2 {
		t.Errorf("Expected 2 review events, got %f", got)
	}
	if got := testutil.ToFloat64(m.EventsEmittedTotal.WithLabelValues("system")); got != 1 {
		t.Errorf("Expected 1 system event, got %f", got)
	}
	if got := testutil.ToFloat64(m.EventHandlerErrorsTotal.WithLabelValues("review")); got != 1 {
		t.Errorf("Expected 1 handler error, got %f", got)
	}
	if got := testutil.ToFloat64(m.ResourceAllocations); got != 3 {
		t.Errorf("Expected 3 allocations, got %f", got)
	}
}

func TestPluginMetrics(t *testing.T) {
	m := NewMetrics()
	pm := m.ForPlugin("pub.chive.plugin.x")

	t.Run("counters are labelled by plugin", func(t *testing.T) {
		pm.Inc("lookups")
		pm.Add("lookups", 2)

		if got := testutil.ToFloat64(m.PluginCounterTotal.WithLabelValues("pub.chive.plugin.x", "lookups")); got != 3 {
			t.Errorf("Expected 3, got %f", got)
		}
	})

	t.Run("negative delta is ignored", func(t *testing.T) {
		pm.Add("retries", 4)
		pm.Add("retries", -1)

		if got := testutil.ToFloat64(m.PluginCounterTotal.WithLabelValues("pub.chive.plugin.x", "retries")); got != 4 {
			t.Errorf("Expected 4, got %f", got)
		}
	})

	t.Run("forget removes plugin series", func(t *testing.T) {
		pm.Observe("latency", 0.1)
		m.PermissionDenied("pub.chive.plugin.x", "system.startup")
		m.ForPlugin("pub.chive.plugin.y").Inc("lookups")

		m.ForgetPlugin("pub.chive.plugin.x")

		if got := testutil.CollectAndCount(m.PluginCounterTotal); got != 1 {
			t.Errorf("Expected 1 remaining counter series, got %d", got)
		}
		if got := testutil.CollectAndCount(m.PluginObservations); got != 0 {
			t.Errorf("Expected no observation series, got %d", got)
		}
		if got := testutil.CollectAndCount(m.PermissionDenialsTotal); got != 0 {
			t.Errorf("Expected no denial series, got %d", got)
		}
	})
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// None of these may panic
	m.PluginLoaded("failure")
	m.PluginUnloaded()
	m.SetPluginsLoaded(1)
	m.AllocationsChanged(1)
	m.EventEmitted("system")
	m.HandlerFailed("system")
	m.PermissionDenied("pub.chive.plugin.x", "system.startup")
	m.ForgetPlugin("pub.chive.plugin.x")
	m.ForPlugin("pub.chive.plugin.x").Inc("lookups")
	m.ForPlugin("pub.chive.plugin.x").Observe("latency", 1)
}

func TestMetricsIsolation(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.PluginUnloaded()
	m1.PluginUnloaded()
	m2.PluginUnloaded()

	if got := testutil.ToFloat64(m1.PluginUnloadsTotal); got != 2 {
		t.Errorf("m1: Expected value 2, got %f", got)
	}
	if got := testutil.ToFloat64(m2.PluginUnloadsTotal); got != 1 {
		t.Errorf("m2: Expected value 1, got %f", got)
	}
}
