package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
)

var _ notification.PreferencesRepo = (*PreferencesRepo)(nil)

type PreferencesRepo struct{ db *DB }

func NewPreferencesRepo(db *DB) *PreferencesRepo { return &PreferencesRepo{db: db} }

const (
	qPrefsGet = `
SELECT user_id, email_enabled, push_enabled, event_updates, event_reminders,
       forum_notifications, system_notifications, updated_at
FROM notification_preferences
WHERE user_id = $1;`

	qPrefsUpsert = `
INSERT INTO notification_preferences (user_id, email_enabled, push_enabled, event_updates,
    event_reminders, forum_notifications, system_notifications, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
ON CONFLICT (user_id) DO UPDATE
SET email_enabled        = EXCLUDED.email_enabled,
    push_enabled         = EXCLUDED.push_enabled,
    event_updates        = EXCLUDED.event_updates,
    event_reminders      = EXCLUDED.event_reminders,
    forum_notifications  = EXCLUDED.forum_notifications,
    system_notifications = EXCLUDED.system_notifications,
    updated_at           = EXCLUDED.updated_at
RETURNING updated_at;`
)

func (r *PreferencesRepo) Get(ctx context.Context, userID string) (*notification.Preferences, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p notification.Preferences
	err := r.db.execQueryer(ctx).QueryRow(ctx, qPrefsGet, userID).Scan(
		&p.UserID, &p.EmailEnabled, &p.PushEnabled, &p.EventUpdates, &p.EventReminders,
		&p.ForumNotifications, &p.SystemNotifications, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err, notification.ErrNotFound, "get preferences")
	}
	return &p, nil
}

func (r *PreferencesRepo) Upsert(ctx context.Context, p *notification.Preferences) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qPrefsUpsert,
		p.UserID, p.EmailEnabled, p.PushEnabled, p.EventUpdates, p.EventReminders,
		p.ForumNotifications, p.SystemNotifications, nullTime(p.UpdatedAt),
	).Scan(&p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
