package push

import "context"

type SubscriptionRepo interface {
	// Upsert stores s as the only subscription of s.UserID.
	Upsert(ctx context.Context, s *Subscription) error
	GetByUser(ctx context.Context, userID string) (*Subscription, error)
	DeleteByUser(ctx context.Context, userID string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type Sender interface {
	Send(ctx context.Context, s *Subscription, m Message) error
}

// Deduper remembers deliveries so a redelivered event is pushed once.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
