// Package telemetry wires OpenTelemetry metrics and tracing for the clinical
// documentation service. Metrics are exported through a Prometheus registry
// served at /metrics; spans wrap every HTTP request and AI provider call.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/chiro/chiro"

// TraceIDHeader carries the active trace id back to the caller.
const TraceIDHeader = "X-Trace-ID"

type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil = enabled
	TracingEnabled *bool // nil = enabled
	SampleRate     float64
	// SpanExporter is optional; spans are recorded but not exported when nil.
	SpanExporter sdktrace.SpanExporter
}

func (c *TelemetryConfig) metricsOn() bool { return c.MetricsEnabled == nil || *c.MetricsEnabled }
func (c *TelemetryConfig) tracingOn() bool { return c.TracingEnabled == nil || *c.TracingEnabled }

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "chiro-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1.0
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool { return &b }

type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry
	meters   metric.MeterProvider
	tracer   trace.Tracer
	metrics  *Metrics
	shutdown []func(context.Context) error
}

// NewTelemetryProvider builds the meter and tracer providers and registers
// them as the OpenTelemetry globals.
func NewTelemetryProvider(cfg TelemetryConfig) (*TelemetryProvider, error) {
	cfg.applyDefaults()
	tp := &TelemetryProvider{cfg: cfg}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	if cfg.metricsOn() {
		tp.registry = prometheus.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(tp.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
		otel.SetMeterProvider(mp)
		tp.meters = mp
		tp.shutdown = append(tp.shutdown, mp.Shutdown)
	} else {
		tp.meters = noop.NewMeterProvider()
	}

	if cfg.tracingOn() {
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		}
		if cfg.SpanExporter != nil {
			opts = append(opts, sdktrace.WithBatcher(cfg.SpanExporter))
		}
		sp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(sp)
		tp.tracer = sp.Tracer(instrumentationName)
		tp.shutdown = append(tp.shutdown, sp.Shutdown)
	} else {
		tp.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}

	tp.metrics, err = NewMetrics(tp.meters)
	if err != nil {
		return nil, err
	}
	return tp, nil
}

// Shutdown flushes and stops the providers.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range tp.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (tp *TelemetryProvider) Metrics() *Metrics    { return tp.metrics }
func (tp *TelemetryProvider) Tracer() trace.Tracer { return tp.tracer }

// TracingMiddleware starts a server span per request and returns the trace
// id in the X-Trace-ID response header.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tp.tracer.Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("url.path", req.URL.Path),
				))
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				c.Response().Header().Set(TraceIDHeader, sc.TraceID().String())
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if err != nil || status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}
			return err
		}
	}
}

// MetricsMiddleware records request latency by method, route and status.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			tp.metrics.HTTPRequestDuration.Record(c.Request().Context(), time.Since(start).Seconds(),
				metric.WithAttributes(
					attribute.String("method", c.Request().Method),
					attribute.String("route", route),
					attribute.String("status_code", strconv.Itoa(status)),
				))
			return err
		}
	}
}

// PrometheusHandler serves the metrics registry in the Prometheus text format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	if tp.registry == nil {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "metrics disabled")
		}
	}
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{}))
}
