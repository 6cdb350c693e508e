package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Campusbell/internal/domain/push"
)

var _ push.SubscriptionRepo = (*PushSubscriptionRepo)(nil)

type PushSubscriptionRepo struct{ db *DB }

func NewPushSubscriptionRepo(db *DB) *PushSubscriptionRepo { return &PushSubscriptionRepo{db: db} }

const (
	qPushUpsert = `
INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET endpoint   = EXCLUDED.endpoint,
    p256dh     = EXCLUDED.p256dh,
    auth       = EXCLUDED.auth,
    user_agent = EXCLUDED.user_agent,
    updated_at = now()
RETURNING created_at, updated_at;`

	qPushByUser = `
SELECT user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
FROM push_subscriptions
WHERE user_id = $1;`

	qPushDeleteByUser     = `DELETE FROM push_subscriptions WHERE user_id = $1;`
	qPushDeleteByEndpoint = `DELETE FROM push_subscriptions WHERE endpoint = $1;`
)

func (r *PushSubscriptionRepo) Upsert(ctx context.Context, s *push.Subscription) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qPushUpsert,
		s.UserID, s.Endpoint, s.Keys.P256dh, s.Keys.Auth, s.UserAgent,
	).Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepo) GetByUser(ctx context.Context, userID string) (*push.Subscription, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var s push.Subscription
	err := r.db.execQueryer(ctx).QueryRow(ctx, qPushByUser, userID).Scan(
		&s.UserID, &s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err, push.ErrNotFound, "get push subscription")
	}
	return &s, nil
}

func (r *PushSubscriptionRepo) DeleteByUser(ctx context.Context, userID string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qPushDeleteByUser, userID); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.execQueryer(ctx).Exec(ctx, qPushDeleteByEndpoint, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
