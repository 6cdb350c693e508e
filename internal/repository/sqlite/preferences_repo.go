package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
)

var _ notification.PreferencesRepo = (*PreferencesRepo)(nil)

type PreferencesRepo struct{ db *DB }

func NewPreferencesRepo(db *DB) *PreferencesRepo { return &PreferencesRepo{db: db} }

type preferencesRow struct {
	UserID              string `db:"user_id"`
	EmailEnabled        bool   `db:"email_enabled"`
	PushEnabled         bool   `db:"push_enabled"`
	EventUpdates        bool   `db:"event_updates"`
	EventReminders      bool   `db:"event_reminders"`
	ForumNotifications  bool   `db:"forum_notifications"`
	SystemNotifications bool   `db:"system_notifications"`
	UpdatedAt           string `db:"updated_at"`
}

func (r *PreferencesRepo) Get(ctx context.Context, userID string) (*notification.Preferences, error) {
	var row preferencesRow
	err := r.db.ext(ctx).GetContext(ctx, &row, `
		SELECT user_id, email_enabled, push_enabled, event_updates, event_reminders,
		       forum_notifications, system_notifications, updated_at
		FROM notification_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	updated, err := parseTS(row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &notification.Preferences{
		UserID:              row.UserID,
		EmailEnabled:        row.EmailEnabled,
		PushEnabled:         row.PushEnabled,
		EventUpdates:        row.EventUpdates,
		EventReminders:      row.EventReminders,
		ForumNotifications:  row.ForumNotifications,
		SystemNotifications: row.SystemNotifications,
		UpdatedAt:           updated,
	}, nil
}

func (r *PreferencesRepo) Upsert(ctx context.Context, p *notification.Preferences) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ext(ctx).ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, email_enabled, push_enabled, event_updates,
		    event_reminders, forum_notifications, system_notifications, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    email_enabled        = excluded.email_enabled,
		    push_enabled         = excluded.push_enabled,
		    event_updates        = excluded.event_updates,
		    event_reminders      = excluded.event_reminders,
		    forum_notifications  = excluded.forum_notifications,
		    system_notifications = excluded.system_notifications,
		    updated_at           = excluded.updated_at`,
		p.UserID, p.EmailEnabled, p.PushEnabled, p.EventUpdates, p.EventReminders,
		p.ForumNotifications, p.SystemNotifications, formatTS(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
