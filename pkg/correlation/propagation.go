package correlation

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var textMapPropagator = propagation.TraceContext{}

// headerCarrier adapts an http.Header into a propagation.TextMapCarrier.
type headerCarrier http.Header

func (h headerCarrier) Get(key string) string       { return http.Header(h).Get(key) }
func (h headerCarrier) Set(key, value string)        { http.Header(h).Set(key, value) }
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// ExtractTraceParent parses W3C traceparent/tracestate headers, returning
// the enclosing context.Context carrying the remote span context (usable
// via trace.SpanContextFromContext) and the decoded trace/span IDs.
func ExtractTraceParent(ctx context.Context, headers http.Header) (context.Context, string, string) {
	extracted := textMapPropagator.Extract(ctx, headerCarrier(headers))
	sc := trace.SpanContextFromContext(extracted)
	if !sc.IsValid() {
		return extracted, "", ""
	}
	return extracted, sc.TraceID().String(), sc.SpanID().String()
}

// InjectTraceParent writes the span context carried by ctx into headers as
// W3C traceparent/tracestate, for propagation to downstream calls.
func InjectTraceParent(ctx context.Context, headers http.Header) {
	textMapPropagator.Inject(ctx, headerCarrier(headers))
}
