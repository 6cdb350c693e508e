package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	kafkax "github.com/NordCoder/Campusbell/internal/repository/kafka"
	"go.uber.org/zap"
)

// kafka-init creates the change topic before the services start so that
// consumers joining an empty cluster do not race topic auto-creation.
func main() {
	brokers := strings.Split(env("KAFKA_BROKERS", "kafka:9092"), ",")
	topics := strings.Split(env("KAFKA_TOPICS", "campusbell.changes"), ",")
	partitions := envInt("KAFKA_PARTITIONS", 3)
	rf := envInt("KAFKA_RF", 1)
	retention, err := time.ParseDuration(env("KAFKA_RETENTION", "168h"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: env("LOG_LEVEL", "info"), App: "kafka-init"})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pol := retry.Policy{
		Name:     "kafka_init",
		Attempts: 10,
		Backoff:  retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			l.Warn("kafka not ready", zap.Int("attempt", i+1), zap.Error(err))
		},
	}

	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		err := retry.Do(ctx, func() error {
			return kafkax.EnsureTopic(ctx, brokers, kafkax.TopicSpec{
				Name:              t,
				NumPartitions:     partitions,
				ReplicationFactor: rf,
				Retention:         retention,
				MaxWait:           10 * time.Second,
			}, l)
		}, pol)
		if err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
		l.Info("topic ready", zap.String("topic", t), zap.Int("partitions", partitions))
	}
	l.Info("kafka-init ok")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, _ := strconv.Atoi(v); n > 0 {
			return n
		}
	}
	return def
}
