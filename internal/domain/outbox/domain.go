package outbox

import (
	"context"
	"strconv"
	"time"
)

// Status mirrors the outbox.status column.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

// Kind selects the handler for a row. Values are persisted; never renumber.
type Kind int

const (
	KindNotificationCreated Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindNotificationCreated:
		return "notification_created"
	default:
		return "kind_" + strconv.Itoa(int(k))
	}
}

// Message is one claimed outbox row. The trace fields carry the W3C
// context of the enqueuing request.
type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Traceparent    string
	Tracestate     string
	Baggage        string
}

type Repository interface {
	// Enqueue is a no-op when key was already enqueued.
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error
	// PickBatch claims up to batch rows that are new or whose claim is
	// older than inProgressTTL.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

// GlobalHandler resolves the handler for kind or fails for unknown kinds.
type GlobalHandler func(kind Kind) (KindHandler, error)
