package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"raster-check/internal/check"
	"raster-check/internal/compare"
	"raster-check/internal/myhttp"
	"raster-check/internal/raster"
	"runtime"
	"strconv"
	"syscall"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

var comparisonsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "raster_check_comparisons_total",
	Help: "Number of comparisons by verdict.",
}, []string{"verdict"})

func init() {
	prometheus.MustRegister(comparisonsTotal)
}

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int
	maxUploadBytes         int64
	comparator             *compare.Comparator
}

func NewServer() *Server {
	return &Server{
		address:                envOrDefaultValue("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: envOrDefaultValue("TERMINATION_GRACE_PERIOD", 10*time.Second),
		lameduck:               envOrDefaultValue("LAMEDUCK", 1*time.Second),
		keepAlive:              envOrDefaultValue("HTTP_KEEPALIVE", true),
		maxConnections:         envOrDefaultValue("MAX_CONNECTIONS", 65532),
		maxUploadBytes:         envOrDefaultValue[int64]("MAX_UPLOAD_BYTES", 256<<20),
		comparator:             compare.NewComparator(compare.DefaultThresholds),
	}
}

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case int64:
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return any(intValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}

var Debug = false

func (s *Server) Start(ctx context.Context) error {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "raster-check-server",
		ServerAddress:   os.Getenv("PYROSCOPE_ENDPOINT"),
		UploadRate:      60 * time.Second,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return xerrors.Errorf("failed to create profiler: %w", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	r, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("raster-check-server")),
	)
	if err != nil {
		return xerrors.Errorf("failed to create resource: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return xerrors.Errorf("failed to create trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(traceProvider))

	exporter, err := otelprometheus.New()
	if err != nil {
		return xerrors.Errorf("failed to create exporter: %w", err)
	}
	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	// https://github.com/prometheus/client_golang/blob/v1.20.4/prometheus/metric.go#L200
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("raster-check-server")
	httpRequestsDurationMicroSeconds, err := meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return xerrors.Errorf("failed to create histogram: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	server := &http.Server{
		Handler: s.handler(logger, httpRequestsDurationMicroSeconds),
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve HTTP", "error", err)
		}
	}()
	logger.Info("listening", "address", listener.Addr().String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit
	time.Sleep(s.lameduck)

	ctx, cancel := context.WithTimeout(ctx, s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}

	if err := traceProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown trace provider: %w", err)
	}

	if err := profiler.Stop(); err != nil {
		return xerrors.Errorf("failed to shutdown profiler: %w", err)
	}

	return nil
}

func newLogger() (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
}

func (s *Server) handler(logger *slog.Logger, httpRequestsDurationMicroSeconds metric.Int64Histogram) http.Handler {
	mux := myhttp.NewServerMux(logger, httpRequestsDurationMicroSeconds)

	mux.HandleFuncWithMiddleware("POST /compare", s.handleCompare)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})

	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	return mux
}

type CompareResponse struct {
	*check.JSONReport
	HeatmapData string `json:"heatmapData,omitempty"`
}

type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	logger := myhttp.LoggerFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, logger, http.StatusRequestEntityTooLarge, "RequestTooLarge", err)
			return
		}
		writeError(w, logger, http.StatusBadRequest, "UsageError", err)
		return
	}

	outcome := &check.Outcome{}
	var err error
	outcome.Generated, outcome.GeneratedPath, err = decodeFormFile(r, "generated")
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, errorKind(err), err)
		return
	}
	outcome.Reference, outcome.ReferencePath, err = decodeFormFile(r, "reference")
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, errorKind(err), err)
		return
	}

	if !outcome.Generated.SameSize(outcome.Reference) {
		err := &check.DimensionMismatchError{
			GeneratedPath:   outcome.GeneratedPath,
			GeneratedWidth:  outcome.Generated.Width(),
			GeneratedHeight: outcome.Generated.Height(),
			ReferencePath:   outcome.ReferencePath,
			ReferenceWidth:  outcome.Reference.Width(),
			ReferenceHeight: outcome.Reference.Height(),
		}
		writeError(w, logger, http.StatusBadRequest, errorKind(err), err)
		return
	}

	outcome.Result = s.comparator.Compare(outcome.Generated, outcome.Reference)

	response := CompareResponse{
		JSONReport: check.NewJSONReport(outcome),
	}
	comparisonsTotal.WithLabelValues(response.Verdict).Inc()

	if wantHeatmap, _ := strconv.ParseBool(r.FormValue("heatmap")); wantHeatmap {
		data, err := check.EncodeHeatmap(outcome)
		if err != nil {
			writeError(w, logger, http.StatusInternalServerError, "InternalError", err)
			return
		}
		response.HeatmapData = base64.StdEncoding.EncodeToString(data)
	}

	logger.Debug("compared images",
		"generated", outcome.GeneratedPath,
		"reference", outcome.ReferencePath,
		"maxPixelDiff", response.MaxPixelDiff,
		"rmse", response.RMSE,
		"verdict", response.Verdict,
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func decodeFormFile(r *http.Request, field string) (*raster.Image, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, field, xerrors.Errorf("missing form file %q: %w", field, err)
	}
	defer func(file multipart.File) {
		_ = file.Close()
	}(file)

	name := header.Filename
	if name == "" {
		name = field
	}
	img, err := raster.Decode(file, name)
	if err != nil {
		return nil, name, err
	}
	return img, name, nil
}

func errorKind(err error) string {
	var formatError *raster.FormatError
	var ioError *raster.IOError
	var mismatch *check.DimensionMismatchError
	switch {
	case errors.As(err, &formatError):
		return formatError.Kind.String()
	case errors.As(err, &ioError):
		return "IOError"
	case errors.As(err, &mismatch):
		return "DimensionMismatch"
	default:
		return "UsageError"
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, kind string, err error) {
	logger.Info("rejected comparison", "kind", kind, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Kind:    kind,
		Message: err.Error(),
	}); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func main() {
	ctx := context.Background()

	server := NewServer()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
