package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"go.uber.org/zap"
)

// ensureBestEffort creates topic for local stacks. Production topics come
// from kafka-init, so a failure here is only logged.
func ensureBestEffort(ctx context.Context, brokers []string, topic string, partitions int, log *zap.Logger) {
	err := EnsureTopic(ctx, brokers, TopicSpec{
		Name:              topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, log)
	if err != nil {
		obs.Component(log, "kafka.bootstrap").Warn("ensure topic", zap.String("topic", topic), zap.Error(err))
	}
}

func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, partitions int, log *zap.Logger) *Consumer {
	ensureBestEffort(ctx, cfg.Brokers, cfg.Topic, partitions, log)
	return NewConsumer(cfg)
}

func BootstrapProducer(ctx context.Context, brokers []string, topic string, partitions int, log *zap.Logger) *Producer {
	ensureBestEffort(ctx, brokers, topic, partitions, log)
	return NewProducer(brokers, topic).WithLogger(log)
}
