package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithTraceAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	ctx := ContextWithFields(context.Background(), zap.String("user_id", "u1"))
	ctx = ContextWithFields(ctx, zap.String("route", "/v1/notifications"))

	tid, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	sid, _ := trace.SpanIDFromHex("0123456789abcdef")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))

	WithTrace(ctx, log).Info("listed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "/v1/notifications", fields["route"])
	assert.Equal(t, tid.String(), fields["trace_id"])
}

func TestWithTraceWithoutContextKeepsLogger(t *testing.T) {
	log := zap.NewNop()
	assert.Same(t, log, WithTrace(context.Background(), log))
	assert.Nil(t, WithTrace(context.Background(), nil))
}
