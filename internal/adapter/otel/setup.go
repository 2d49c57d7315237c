// Package otel provides OpenTelemetry tracing and metric instruments.
// Exporter wiring is left to the deployment; instruments fall back to the
// global no-op providers when none is installed.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a shutdown function for the trace provider. With no
// exporter configured the global no-op provider stays in place.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
