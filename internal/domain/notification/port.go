package notification

import (
	"context"
	"time"
)

type Repo interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	// ListByUser returns up to limit notifications, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead transitions the given ids from unread to read. A nil ids
	// slice means every unread notification of the user. Receipts cover
	// transitioned rows and, for explicit ids, rows that were already read.
	MarkRead(ctx context.Context, userID string, ids []string, at time.Time) ([]Receipt, error)
}

type PreferencesRepo interface {
	Get(ctx context.Context, userID string) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Directory resolves delivery addresses owned by the identity provider.
type Directory interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
