package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicSpec describes a topic to create. Retention of zero keeps the broker
// default.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	Retention         time.Duration
	MaxWait           time.Duration
}

var ErrTopicNotReady = errors.New("kafka: topic not ready")

// EnsureTopic creates spec.Name through the controller when it is missing
// and waits until every partition has a leader.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers")
	}
	if spec.NumPartitions <= 0 {
		spec.NumPartitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	if spec.MaxWait <= 0 {
		spec.MaxWait = 5 * time.Second
	}
	log = log.With(zap.String("topic", spec.Name))

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		log.Warn("kafka dial failed", zap.Error(err))
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka dial controller: %w", err)
	}
	defer cc.Close()

	tc := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}
	if spec.Retention > 0 {
		tc.ConfigEntries = append(tc.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(spec.Retention.Milliseconds(), 10),
		})
	}
	if err := cc.CreateTopics(tc); err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}

	deadline := time.Now().Add(spec.MaxWait)
	for {
		ready, err := leadersElected(conn, spec.Name)
		if ready {
			log.Info("topic ready")
			return nil
		}
		if time.Now().After(deadline) {
			log.Warn("topic not confirmed ready in time", zap.Error(err))
			return fmt.Errorf("%w: %s", ErrTopicNotReady, spec.Name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func leadersElected(conn *kafka.Conn, topic string) (bool, error) {
	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return false, err
	}
	if len(parts) == 0 {
		return false, nil
	}
	for _, p := range parts {
		if p.Leader.ID == -1 {
			return false, nil
		}
	}
	return true, nil
}
