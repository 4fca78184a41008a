package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

// Tracing adds OpenTelemetry tracing to HTTP requests, joining W3C trace
// context sent by callers. Span export is wired by whatever SDK the process
// configures; without one this is a no-op with context propagation.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, otelhttp.WithPropagators(prop))
	}
}
