package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/push"
)

var _ push.SubscriptionRepo = (*PushSubscriptionRepo)(nil)

type PushSubscriptionRepo struct{ db *DB }

func NewPushSubscriptionRepo(db *DB) *PushSubscriptionRepo { return &PushSubscriptionRepo{db: db} }

type subscriptionRow struct {
	UserID    string `db:"user_id"`
	Endpoint  string `db:"endpoint"`
	P256dh    string `db:"p256dh"`
	Auth      string `db:"auth"`
	UserAgent string `db:"user_agent"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r *PushSubscriptionRepo) Upsert(ctx context.Context, s *push.Subscription) error {
	now := time.Now().UTC()
	_, err := r.db.ext(ctx).ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    endpoint   = excluded.endpoint,
		    p256dh     = excluded.p256dh,
		    auth       = excluded.auth,
		    user_agent = excluded.user_agent,
		    updated_at = excluded.updated_at`,
		s.UserID, s.Endpoint, s.Keys.P256dh, s.Keys.Auth, s.UserAgent, formatTS(now), formatTS(now))
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	got, err := r.GetByUser(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.CreatedAt, s.UpdatedAt = got.CreatedAt, got.UpdatedAt
	return nil
}

func (r *PushSubscriptionRepo) GetByUser(ctx context.Context, userID string) (*push.Subscription, error) {
	var row subscriptionRow
	err := r.db.ext(ctx).GetContext(ctx, &row, `
		SELECT user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
		FROM push_subscriptions WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, push.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	s := &push.Subscription{
		UserID: row.UserID, Endpoint: row.Endpoint, UserAgent: row.UserAgent,
		Keys: push.Keys{P256dh: row.P256dh, Auth: row.Auth},
	}
	if s.CreatedAt, err = parseTS(row.CreatedAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTS(row.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PushSubscriptionRepo) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := r.db.ext(ctx).ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}
