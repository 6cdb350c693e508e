package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler processes one message. A non-nil error is retried in place up
// to ConsumerConfig.HandlerAttempts, then the message is skipped.
type Handler func(ctx context.Context, key, value []byte) error

var consumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_consumed_total",
	Help: "Messages consumed by result (ok, skipped).",
}, []string{"topic", "result"})

type ConsumerConfig struct {
	Brokers         []string    `mapstructure:"brokers"`
	GroupID         string      `mapstructure:"group_id"`
	Topic           string      `mapstructure:"topic"`
	FromBeginning   bool        `mapstructure:"from_beginning"`
	HandlerAttempts int         `mapstructure:"handler_attempts"`
	Logger          *zap.Logger `mapstructure:"-"`
}

type Consumer struct {
	reader *kafka.Reader
	cfg    ConsumerConfig
	fetch  retry.Backoff
	log    *zap.Logger
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	c := *cfg
	if c.HandlerAttempts <= 0 {
		c.HandlerAttempts = 3
	}
	start := kafka.LastOffset
	if c.FromBeginning {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               c.Brokers,
		GroupID:               c.GroupID,
		Topic:                 c.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,
		MinBytes:              1,
		MaxBytes:              10e6,
		MaxWait:               500 * time.Millisecond,
		SessionTimeout:        10 * time.Second,
		RebalanceTimeout:      15 * time.Second,
		HeartbeatInterval:     3 * time.Second,
	})
	cons := &Consumer{
		reader: r,
		cfg:    c,
		fetch:  retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
	}
	return cons.WithLogger(c.Logger)
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	cp := *c
	cp.log = obs.Component(l, "kafka.consumer").With(
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
	return &cp
}

// Consume fetches until ctx ends. Offsets are committed after the handler
// returns, so delivery is at least once.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := c.fetch.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch EOF", zap.Duration("backoff", wait))
			} else {
				c.log.Warn("fetch failed", zap.Error(err), zap.Duration("backoff", wait))
			}
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		result := "ok"
		if err := c.handleWithRetry(ctx, h, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result = "skipped"
			c.log.Error("message skipped",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		consumed.WithLabelValues(msg.Topic, result).Inc()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h Handler, msg kafka.Message) error {
	return retry.Do(ctx, func() error { return c.handle(ctx, h, msg) }, retry.Policy{
		Name:     "kafka_consume",
		Attempts: c.cfg.HandlerAttempts,
		Backoff:  c.fetch,
	})
}

// handle runs h in a consumer span that continues the producer's trace.
func (c *Consumer) handle(ctx context.Context, h Handler, msg kafka.Message) error {
	ctx, span := otel.Tracer("kafka.consumer").Start(extractTrace(ctx, msg.Headers), "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.String("campusbell.table", tableOf(msg.Headers)),
		),
	)
	defer span.End()

	if err := h(ctx, msg.Key, msg.Value); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
