// Package observability is the agent's ambient tracing/metrics facade,
// adapted from the teacher's observability package (its source did not
// survive distillation, only its test suite; this file reimplements the
// API shape that suite exercises — Config/Setup/Shutdown/Enabled plus a
// Start/StartWith span helper — against this domain's attributes
// instead of MoQT's tracks and broadcasts). Every exported func is a
// safe no-op when tracing isn't configured, so call sites never need to
// branch on whether observability is enabled.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls which observability backends Setup wires up. The zero
// value disables everything: Setup(ctx, Config{}) succeeds and every
// subsequent call is a no-op.
type Config struct {
	Service   string
	TraceAddr string // OTLP/gRPC collector address for traces, empty disables tracing
	LogAddr   string // OTLP/gRPC collector address for logs, empty disables log export
	Metrics   bool   // whether to register the Prometheus recorder (see metrics.go)
}

var (
	mu              sync.Mutex
	tracer          trace.Tracer
	tracerProvider  *sdktrace.TracerProvider
	loggerProvider  *sdklog.LoggerProvider
	metricsEnabled  bool
	observabilityOn bool
)

// Setup installs the configured tracing/logging backends and returns an
// error only if a backend that was explicitly requested (a non-empty
// address) failed to initialize.
func Setup(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName(cfg))))
	if err != nil {
		return fmt.Errorf("observability: build resource: %w", err)
	}

	metricsEnabled = cfg.Metrics

	if cfg.LogAddr != "" {
		exp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(cfg.LogAddr), otlploggrpc.WithInsecure())
		if err != nil {
			return fmt.Errorf("observability: build log exporter: %w", err)
		}
		loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		)
		global.SetLoggerProvider(loggerProvider)
		slog.SetDefault(otelslog.NewLogger(serviceName(cfg)))
	}

	if cfg.TraceAddr == "" {
		observabilityOn = false
		tracer = otel.Tracer(serviceName(cfg))
		return nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.TraceAddr), otlptracegrpc.WithInsecure())
	if err != nil {
		return fmt.Errorf("observability: build trace exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(serviceName(cfg))
	observabilityOn = true

	return nil
}

func serviceName(cfg Config) string {
	if cfg.Service == "" {
		return "meshagentd"
	}
	return cfg.Service
}

// Shutdown flushes and closes any backend Setup started. Safe to call
// even if Setup was never called or configured everything off.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		tracerProvider = nil
	}
	if loggerProvider != nil {
		if err := loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		loggerProvider = nil
	}
	observabilityOn = false
	tracer = nil

	if len(errs) > 0 {
		return fmt.Errorf("observability: shutdown: %v", errs)
	}
	return nil
}

// Enabled reports whether tracing is backed by a real exporter.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return observabilityOn
}

// MetricsEnabled reports whether Setup was called with Metrics: true.
func MetricsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return metricsEnabled
}

// Span wraps an OpenTelemetry span with the domain-specific helpers
// (Error, Event, Set) the rest of the agent calls instead of reaching
// into the otel API directly.
type Span struct {
	span  trace.Span
	onEnd func()
}

// Start begins a span named name under ctx's current trace (or a new
// trace root if there is none), returning the derived context and a
// Span handle. Safe to call before Setup, or with tracing disabled:
// Start always returns a usable (possibly no-op) span.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	mu.Lock()
	t := tracer
	mu.Unlock()

	if t == nil {
		t = otel.Tracer("meshagentd")
	}

	ctx, span := t.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// Option configures a StartWith call.
type Option func(*startConfig)

type startConfig struct {
	attrs   []attribute.KeyValue
	onStart func()
	onEnd   func()
}

// Attrs attaches attributes to the span at start time.
func Attrs(attrs ...attribute.KeyValue) Option {
	return func(c *startConfig) { c.attrs = append(c.attrs, attrs...) }
}

// OnStart registers a callback invoked synchronously once the span has
// started.
func OnStart(fn func()) Option {
	return func(c *startConfig) { c.onStart = fn }
}

// OnEnd registers a callback invoked synchronously when the returned
// Span's End method runs.
func OnEnd(fn func()) Option {
	return func(c *startConfig) { c.onEnd = fn }
}

// StartWith is Start plus a small options protocol (attributes, start
// and end hooks) for call sites that want those without importing the
// otel API directly.
func StartWith(ctx context.Context, name string, opts ...Option) (context.Context, *Span) {
	var cfg startConfig
	for _, o := range opts {
		o(&cfg)
	}

	ctx, span := Start(ctx, name, cfg.attrs...)
	if cfg.onStart != nil {
		cfg.onStart()
	}
	if cfg.onEnd != nil {
		span.onEnd = cfg.onEnd
	}
	return ctx, span
}

// End completes the span, running any OnEnd hook registered via
// StartWith.
func (s *Span) End() {
	if s == nil {
		return
	}
	if s.onEnd != nil {
		s.onEnd()
	}
	if s.span != nil {
		s.span.End()
	}
}

// Error records err on the span (a nil err is a safe no-op, matching
// call sites that want to unconditionally annotate a span without an
// extra branch) and sets its status to an error with msg.
func (s *Span) Error(err error, msg string) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.SetStatus(codes.Error, msg)
}

// Event adds a named point-in-time annotation with attrs to the span.
func (s *Span) Event(name string, attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Set attaches additional attributes to the span after it has started.
func (s *Span) Set(attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}
