package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID test-trace-id, got %s", got)
	}
}

func TestWithPluginID(t *testing.T) {
	ctx := WithPluginID(context.Background(), "pub.chive.plugin.x")

	if got := GetPluginID(ctx); got != "pub.chive.plugin.x" {
		t.Errorf("Expected plugin ID pub.chive.plugin.x, got %s", got)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetPluginID(ctx) != "" {
		t.Error("Expected empty plugin ID")
	}
	if GetOperation(ctx) != "" {
		t.Error("Expected empty operation")
	}
}

func TestNewContext(t *testing.T) {
	tc := &TraceContext{
		TraceID:   "trace-123",
		PluginID:  "pub.chive.plugin.x",
		Operation: "load",
	}

	ctx := NewContext(context.Background(), tc)
	got := FromContext(ctx)

	if *got != *tc {
		t.Errorf("Expected %+v, got %+v", tc, got)
	}
}

func TestNewOperationContext(t *testing.T) {
	t.Run("generates trace id", func(t *testing.T) {
		ctx := NewOperationContext(context.Background(), "unload", "pub.chive.plugin.x")

		if GetTraceID(ctx) == "" {
			t.Error("Trace ID not generated")
		}
		if GetOperation(ctx) != "unload" {
			t.Errorf("Expected operation unload, got %s", GetOperation(ctx))
		}
		if GetPluginID(ctx) != "pub.chive.plugin.x" {
			t.Errorf("Expected plugin pub.chive.plugin.x, got %s", GetPluginID(ctx))
		}
	})

	t.Run("keeps existing trace id", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace-parent")
		ctx := NewOperationContext(parent, "reload", "pub.chive.plugin.x")

		if GetTraceID(ctx) != "trace-parent" {
			t.Errorf("Expected trace-parent, got %s", GetTraceID(ctx))
		}
	})
}
