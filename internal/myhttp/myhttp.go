// Package myhttp wraps http.ServeMux with per-request logging, tracing,
// profiling labels and a latency histogram.
package myhttp

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
)

// Mux is the router returned by NewServerMux. Handle and HandleFunc register
// routes without instrumentation, for probes and metrics scrapes.
type Mux interface {
	http.Handler
	Handle(pattern string, handler http.Handler)
	HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
	HandleWithMiddleware(pattern string, handler http.Handler)
	HandleFuncWithMiddleware(pattern string, handler http.HandlerFunc)
}

func NewServerMux(logger *slog.Logger, httpRequestsDurationMicroSeconds metric.Int64Histogram) Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &myRouter{
		ServeMux:                         http.NewServeMux(),
		logger:                           logger,
		httpRequestsDurationMicroSeconds: httpRequestsDurationMicroSeconds,
	}
}
