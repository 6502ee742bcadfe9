package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/conversation"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/docqa/internal/http"

// outcomeKey is the echo context key a handler sets to label how a question
// ended. Requests that never set it carry no outcome attribute.
const outcomeKey = "docqa.outcome"

// Values for the outcome attribute.
const (
	outcomeAnswer        = "answer"
	outcomeClarification = "clarification"
	outcomeDegraded      = "degraded"
	outcomeError         = "error"
)

// HTTPMetrics holds all HTTP-related metrics.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTPMetrics on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates the instruments. A failed instrument is logged and left nil;
// the middleware skips nil instruments.
func (m *HTTPMetrics) init() {
	var err error

	// Requests by method, route, status and (for /ask) outcome
	m.requestsTotal, err = m.meter.Int64Counter(
		"docqa.http.requests_total",
		metric.WithDescription("HTTP requests by method, route, status code and question outcome."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// /ask runs whole agent loops, so the buckets reach past a minute.
	m.requestDur, err = m.meter.Float64Histogram(
		"docqa.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds by method, route, status code and question outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Upload replies are tiny; answers with reasoning logs are not.
	m.responseSize, err = m.meter.Int64Histogram(
		"docqa.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536, 262144),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"docqa.http.active_requests",
		metric.WithDescription("Requests currently being served, uploads and agent runs included."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			attrs := []attribute.KeyValue{
				attribute.String("method", req.Method),
				attribute.String("route", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			}
			if outcome, ok := c.Get(outcomeKey).(string); ok {
				attrs = append(attrs, attribute.String("outcome", outcome))
			}
			set := metric.WithAttributes(attrs...)

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, set)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), set)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, set)
			}

			return err
		}
	}
}

// askOutcome labels a successful /ask response.
func askOutcome(resp *conversation.Response) string {
	switch {
	case resp.Clarification != nil:
		return outcomeClarification
	case resp.Answer == conversation.DegradedAnswer:
		return outcomeDegraded
	default:
		return outcomeAnswer
	}
}

// normalizePath maps the matched route to a metric label. Echo reports the
// route pattern (/api/v1/sessions/:id), so only unmatched requests need a
// fixed label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
