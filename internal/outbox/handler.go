package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/kafka"
	"github.com/NordCoder/Campusbell/internal/domain/outbox"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers (publish, http, etc.)",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	h = WrapKindHandler(h, pol)
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := h(ctx, data)
		outboxHandlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

// MakeGlobalOutboxHandler publishes outbox rows, which carry change
// envelopes, to the change topic.
func MakeGlobalOutboxHandler(pub kafka.ChangeEvents, pol retry.Policy) outbox.GlobalHandler {
	publish := func(ctx context.Context, data []byte) error {
		rec, err := changefeed.DecodeEnvelope(data)
		if err != nil {
			return fmt.Errorf("decode outbox envelope: %w", err)
		}
		return pub.PublishChange(ctx, rec)
	}
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindNotificationCreated:
			return instrument(kind.String(), publish, pol), nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
	}
}
