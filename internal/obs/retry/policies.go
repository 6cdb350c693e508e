package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "outbox_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("outbox retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox retries exhausted", zap.Error(err))
			}
		},
	}
}

// PushPolicy retries transient web push failures. permanent reports errors
// that must not be retried, such as an expired subscription.
func PushPolicy(log *zap.Logger, permanent func(error) bool) Policy {
	return Policy{
		Name:     "webpush_send",
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return false
			}
			return permanent == nil || !permanent(err)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Debug("push retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}
