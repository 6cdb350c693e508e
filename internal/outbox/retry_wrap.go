package outbox

import (
	"context"
	"errors"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/outbox"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
)

// WrapKindHandler retries h under p. Malformed envelopes fail at once.
func WrapKindHandler(h outbox.KindHandler, p retry.Policy) outbox.KindHandler {
	return func(ctx context.Context, data []byte) error {
		return retry.Do(ctx, func() error {
			err := h(ctx, data)
			if errors.Is(err, changefeed.ErrInvalidEnvelope) {
				return retry.Permanent(err)
			}
			return err
		}, p)
	}
}
