package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.PluginID != "" {
		lc = lc.Str("plugin", tc.PluginID)
	}
	if tc.Operation != "" {
		lc = lc.Str("operation", tc.Operation)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return baseLogger
	}
	return PropagateToLogger(ctx, baseLogger)
}

// Carrier flattens the tracing values of ctx for transport across a process
// boundary. Empty values are omitted.
func Carrier(ctx context.Context) map[string]string {
	tc := FromContext(ctx)
	carrier := make(map[string]string, 3)
	if tc.TraceID != "" {
		carrier[string(TraceIDKey)] = tc.TraceID
	}
	if tc.PluginID != "" {
		carrier[string(PluginIDKey)] = tc.PluginID
	}
	if tc.Operation != "" {
		carrier[string(OperationKey)] = tc.Operation
	}
	return carrier
}

// FromCarrier restores values flattened by Carrier into ctx.
func FromCarrier(ctx context.Context, carrier map[string]string) context.Context {
	return NewContext(ctx, &TraceContext{
		TraceID:   carrier[string(TraceIDKey)],
		PluginID:  carrier[string(PluginIDKey)],
		Operation: carrier[string(OperationKey)],
	})
}
