package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := DocumentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("document.id", id))
	}
	return fields
}

type (
	sessionCtxKey  struct{}
	requestCtxKey  struct{}
	documentCtxKey struct{}
)

// idPattern bounds what ends up in log fields; request and session ids are
// user supplied.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// WithSessionID adds a session id to ctx. Ids that do not match idPattern are dropped.
func WithSessionID(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithRequestID adds a request id to ctx. Ids that do not match idPattern are dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithDocumentID tags ctx with the document being ingested.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, documentCtxKey{}, id)
}

func DocumentIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(documentCtxKey{}).(string)
	return s
}
