package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/outbox"
	"github.com/NordCoder/Campusbell/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound   = notification.ErrNotFound
	ErrEmptyTitle = errors.New("title is required")
)

// Transactor runs fn in one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error
}

type Usecase struct {
	repo     notification.Repo
	prefs    notification.PreferencesRepo
	registry *Registry
	tx       Transactor
	// out is nil when the change feed is fed in-process
	out   Enqueuer
	clock notification.Clock
	log   *zap.Logger
}

func NewUsecase(
	repo notification.Repo,
	prefs notification.PreferencesRepo,
	registry *Registry,
	tx Transactor,
	out Enqueuer,
	clock notification.Clock,
	log *zap.Logger,
) *Usecase {
	if clock == nil {
		clock = notification.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{
		repo: repo, prefs: prefs, registry: registry, tx: tx, out: out, clock: clock,
		log: log.With(zap.String("component", "inbox.usecase")),
	}
}

// List serves the live store when the user has an open session, otherwise
// the backend. Failures degrade to an empty list.
func (u *Usecase) List(ctx context.Context, userID string, limit int) []notification.Notification {
	if s, ok := u.registry.Lookup(userID); ok {
		items := s.Snapshot().Items
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		return items
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	list, err := u.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("list notifications", zap.String("user_id", userID), zap.Error(err))
		return []notification.Notification{}
	}
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		out = append(out, *n)
	}
	return out
}

func (u *Usecase) UnreadCount(ctx context.Context, userID string) int {
	if s, ok := u.registry.Lookup(userID); ok {
		return s.Unread()
	}
	c, err := u.repo.CountUnread(ctx, userID)
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("count unread", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return c
}

// MarkRead reports whether the notification moved from unread to read.
func (u *Usecase) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	if s, ok := u.registry.Lookup(userID); ok && s.Has(id) {
		return s.MarkRead(ctx, id), nil
	}
	receipts, err := u.repo.MarkRead(ctx, userID, []string{id}, u.clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if len(receipts) == 0 {
		return false, ErrNotFound
	}
	return receipts[0].Changed, nil
}

func (u *Usecase) MarkAllRead(ctx context.Context, userID string) (bool, error) {
	if s, ok := u.registry.Lookup(userID); ok {
		return s.MarkAllRead(ctx), nil
	}
	if _, err := u.repo.MarkRead(ctx, userID, nil, u.clock.Now()); err != nil {
		return false, fmt.Errorf("mark all read: %w", err)
	}
	return true, nil
}

// Preferences falls back to defaults when the user never saved any.
func (u *Usecase) Preferences(ctx context.Context, userID string) notification.Preferences {
	p, err := u.prefs.Get(ctx, userID)
	if err != nil || p == nil {
		if err != nil && !errors.Is(err, notification.ErrNotFound) {
			obs.WithTrace(ctx, u.log).Warn("get preferences", zap.String("user_id", userID), zap.Error(err))
		}
		return notification.DefaultPreferences(userID)
	}
	return *p
}

func (u *Usecase) UpdatePreferences(ctx context.Context, userID string, patch notification.PreferencesPatch) (notification.Preferences, error) {
	p := u.Preferences(ctx, userID).Apply(patch)
	p.UserID = userID
	p.UpdatedAt = u.clock.Now()
	if err := u.prefs.Upsert(ctx, &p); err != nil {
		return notification.Preferences{}, fmt.Errorf("upsert preferences: %w", err)
	}
	return p, nil
}

type CreateCommand struct {
	UserID  string
	Title   string
	Message string
	Type    notification.Type
	Data    notification.Payload
}

// Create persists a new unread notification. When an outbox is configured
// the change envelope is enqueued in the same transaction.
func (u *Usecase) Create(ctx context.Context, cmd CreateCommand) (*notification.Notification, error) {
	if strings.TrimSpace(cmd.Title) == "" {
		return nil, ErrEmptyTitle
	}
	if cmd.Data == nil {
		p, err := notification.DecodePayload(cmd.Type, nil)
		if err != nil {
			return nil, err
		}
		cmd.Data = p
	}
	n := &notification.Notification{
		ID:        uuid.NewString(),
		UserID:    cmd.UserID,
		Title:     cmd.Title,
		Message:   cmd.Message,
		Type:      cmd.Type,
		Status:    notification.StatusUnread,
		Data:      cmd.Data,
		CreatedAt: u.clock.Now().Truncate(time.Microsecond),
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := u.repo.Create(ctx, n); err != nil {
			return err
		}
		if u.out == nil {
			return nil
		}
		env, err := insertEnvelope(n)
		if err != nil {
			return err
		}
		return u.out.Enqueue(ctx, "notification:"+n.ID, outbox.KindNotificationCreated, env)
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	obs.WithTrace(ctx, u.log).Info("notification created",
		zap.String("id", n.ID), zap.String("user_id", n.UserID), zap.String("type", string(n.Type)))
	return n, nil
}

func insertEnvelope(n *notification.Notification) ([]byte, error) {
	row, err := n.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return changefeed.EncodeEnvelope(changefeed.Record{
		Kind:       changefeed.KindInsert,
		Table:      changefeed.TableNotifications,
		After:      row,
		CommitTime: n.CreatedAt,
	})
}
