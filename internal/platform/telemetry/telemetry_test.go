package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestTelemetryConfig_Defaults(t *testing.T) {
	tp, err := NewTelemetryProvider(TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewTelemetryProvider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	if tp.cfg.ServiceName != "chiro-server" {
		t.Errorf("expected default service name, got %q", tp.cfg.ServiceName)
	}
	if tp.cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %v", tp.cfg.SampleRate)
	}
	if !tp.cfg.metricsOn() || !tp.cfg.tracingOn() {
		t.Error("metrics and tracing should default on")
	}
}

func TestRecordAICall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordAICall(ctx, "openai", "generate_soap", 1200*time.Millisecond, nil)
	m.RecordAICall(ctx, "openai", "generate_soap", 300*time.Millisecond, errors.New("timeout"))

	req := findMetric(t, reader, "chiro.ai.requests")
	if req == nil {
		t.Fatal("chiro.ai.requests not recorded")
	}
	sum, ok := req.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", req.Data)
	}
	var total int64
	statuses := map[string]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		if v, ok := dp.Attributes.Value(attribute.Key("status")); ok {
			statuses[v.AsString()] += dp.Value
		}
	}
	if total != 2 || statuses["ok"] != 1 || statuses["error"] != 1 {
		t.Errorf("unexpected request counts: total=%d statuses=%v", total, statuses)
	}

	errs := findMetric(t, reader, "chiro.ai.errors")
	if errs == nil {
		t.Fatal("chiro.ai.errors not recorded")
	}
	if es := errs.Data.(metricdata.Sum[int64]); es.DataPoints[0].Value != 1 {
		t.Errorf("expected 1 error, got %d", es.DataPoints[0].Value)
	}

	hist := findMetric(t, reader, "chiro.ai.duration")
	if hist == nil {
		t.Fatal("chiro.ai.duration not recorded")
	}
	if h := hist.Data.(metricdata.Histogram[float64]); h.DataPoints[0].Count != 2 {
		t.Errorf("expected 2 observations, got %d", h.DataPoints[0].Count)
	}
}

func TestCount(t *testing.T) {
	m, reader := newTestMetrics(t)
	Count(context.Background(), m.ComplianceIssues, "type", "MISSING_ELEMENT", "severity", "ERROR")
	got := findMetric(t, reader, "chiro.compliance.issues")
	if got == nil {
		t.Fatal("chiro.compliance.issues not recorded")
	}
	dp := got.Data.(metricdata.Sum[int64]).DataPoints[0]
	if v, _ := dp.Attributes.Value("severity"); v.AsString() != "ERROR" {
		t.Errorf("expected severity attribute, got %v", dp.Attributes)
	}
}

func TestNoop(t *testing.T) {
	m := Noop()
	m.RecordAICall(context.Background(), "mock", "transcribe", time.Second, nil)
	Count(context.Background(), m.DraftNoteEvents, "event", "generated")
}

func TestTracingMiddleware_SetsTraceHeader(t *testing.T) {
	tp, err := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/draft-notes/1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := tp.TracingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("expected trace id header")
	}
}

func TestTracingMiddleware_Disabled(t *testing.T) {
	tp, err := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false), TracingEnabled: BoolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	h := tp.TracingMiddleware()(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get(TraceIDHeader) != "" {
		t.Error("noop tracer should not emit a trace id")
	}
}

func TestPrometheusHandler_ExposesMetrics(t *testing.T) {
	tp, err := NewTelemetryProvider(TelemetryConfig{TracingEnabled: BoolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	e := echo.New()
	mw := tp.MetricsMiddleware()(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")
	if err := mw(c); err != nil {
		t.Fatal(err)
	}
	tp.Metrics().RecordAICall(context.Background(), "openai", "suggest_codes", time.Second, nil)

	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := tp.PrometheusHandler()(c); err != nil {
		t.Fatalf("PrometheusHandler: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{"chiro_http_request_duration", "chiro_ai_requests"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in exposition", want)
		}
	}
}

func TestPrometheusHandler_Disabled(t *testing.T) {
	tp, err := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false), TracingEnabled: BoolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), httptest.NewRecorder())
	err = tp.PrometheusHandler()(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
