package broker

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_Round_Trips_Trace_Context(t *testing.T) {
	req := require.New(t)
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	// Given a header carrying the trace context
	header := nats.Header{}
	propagation.TraceContext{}.Inject(parent, headerCarrier(header))
	req.Equal("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", header.Get("traceparent"))

	// When it is extracted on the receiving side
	extracted := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), headerCarrier(header)))

	// Then the remote span is the publisher's
	req.Equal(traceID, extracted.TraceID())
	req.True(extracted.IsRemote())
}
