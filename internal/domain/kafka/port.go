package kafka

import (
	"context"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
)

type ChangeEvents interface {
	PublishChange(ctx context.Context, rec changefeed.Record) error
}
