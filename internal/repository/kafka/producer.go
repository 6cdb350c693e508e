package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var produced = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_produced_total",
	Help: "Messages written by topic and result.",
}, []string{"topic", "result"})

// Producer writes synchronously: the outbox marks a row sent only after the
// broker acknowledged it.
type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
		log:   obs.Component(nil, "kafka.producer").With(zap.String("topic", topic)),
	}
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		return p
	}
	cp := *p
	cp.log = obs.Component(l, "kafka.producer").With(zap.String("topic", p.topic))
	return &cp
}

// PublishProto marshals m and writes it under key with the trace context
// and any extra headers attached.
func (p *Producer) PublishProto(ctx context.Context, key []byte, m proto.Message, hs ...kafka.Header) error {
	value, err := proto.Marshal(m)
	if err != nil {
		produced.WithLabelValues(p.topic, "marshal_error").Inc()
		return err
	}

	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	msg := kafka.Message{Key: key, Value: value, Headers: injectTrace(ctx, hs)}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		produced.WithLabelValues(p.topic, "error").Inc()
		obs.WithTrace(ctx, p.log).Error("kafka write failed", zap.ByteString("key", key), zap.Error(err))
		return err
	}
	produced.WithLabelValues(p.topic, "ok").Inc()
	p.log.Debug("message published", zap.ByteString("key", key), zap.Int("value_len", len(value)))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// KeyFromString keys messages so one row's changes stay on one partition.
func KeyFromString(id string) []byte { return []byte(id) }
