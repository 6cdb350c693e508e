package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/jmoiron/sqlx"
)

var _ notification.Repo = (*NotificationRepo)(nil)

// NotificationRepo stores notifications in sqlite and, having no database
// trigger, publishes the resulting change records itself.
type NotificationRepo struct {
	db  *DB
	tx  *Transactor
	pub changefeed.Publisher
}

func NewNotificationRepo(db *DB, pub changefeed.Publisher) *NotificationRepo {
	return &NotificationRepo{db: db, tx: NewTransactor(db), pub: pub}
}

type notificationRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Title     string         `db:"title"`
	Message   string         `db:"message"`
	Type      string         `db:"type"`
	Status    string         `db:"status"`
	Data      string         `db:"data"`
	CreatedAt string         `db:"created_at"`
	ReadAt    sql.NullString `db:"read_at"`
}

func (r notificationRow) toDomain() (*notification.Notification, error) {
	n := &notification.Notification{
		ID: r.ID, UserID: r.UserID, Title: r.Title, Message: r.Message,
		Type: notification.Type(r.Type), Status: notification.Status(r.Status),
	}
	var err error
	if n.CreatedAt, err = parseTS(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if r.ReadAt.Valid {
		t, err := parseTS(r.ReadAt.String)
		if err != nil {
			return nil, fmt.Errorf("read_at: %w", err)
		}
		n.ReadAt = &t
	}
	if n.Data, err = notification.DecodePayload(n.Type, json.RawMessage(r.Data)); err != nil {
		return nil, err
	}
	return n, nil
}

const selectNotification = `SELECT id, user_id, title, message, type, status, data, created_at, read_at FROM notifications`

func (r *NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	data := []byte(`{}`)
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		data = b
	}
	var readAt any
	if n.ReadAt != nil {
		readAt = formatTS(*n.ReadAt)
	}
	_, err := r.db.ext(ctx).ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, status, data, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type), string(n.Status), string(data), formatTS(n.CreatedAt), readAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert notification %s: %w", n.ID, ErrConflict)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	r.publish(ctx, changefeed.KindInsert, nil, n)
	return nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	var row notificationRow
	err := r.db.ext(ctx).GetContext(ctx, &row, selectNotification+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return row.toDomain()
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []notificationRow
	if err := r.db.ext(ctx).SelectContext(ctx, &rows,
		selectNotification+` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]*notification.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", row.ID, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var c int
	if err := r.db.ext(ctx).GetContext(ctx, &c,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = 'unread'`, userID); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return c, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) ([]notification.Receipt, error) {
	if ids != nil && len(ids) == 0 {
		return nil, nil
	}
	var out []notification.Receipt
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := selectNotification + ` WHERE user_id = ?`
		args := []any{userID}
		if ids == nil {
			q += ` AND status = 'unread'`
		} else {
			in, inArgs, err := sqlx.In(` AND id IN (?)`, ids)
			if err != nil {
				return err
			}
			q += in
			args = append(args, inArgs...)
		}
		var rows []notificationRow
		if err := r.db.ext(ctx).SelectContext(ctx, &rows, q, args...); err != nil {
			return fmt.Errorf("select for mark read: %w", err)
		}

		stamp := formatTS(at)
		for _, row := range rows {
			before, err := row.toDomain()
			if err != nil {
				return err
			}
			if !before.IsUnread() {
				readAt := at
				if before.ReadAt != nil {
					readAt = *before.ReadAt
				}
				out = append(out, notification.Receipt{ID: before.ID, ReadAt: readAt})
				continue
			}
			res, err := r.db.ext(ctx).ExecContext(ctx,
				`UPDATE notifications SET status = 'read', read_at = ? WHERE id = ? AND status = 'unread'`, stamp, before.ID)
			if err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			after := before.Clone()
			after.MarkRead(at)
			out = append(out, notification.Receipt{ID: after.ID, ReadAt: *after.ReadAt, Changed: true})
			r.publish(ctx, changefeed.KindUpdate, before, after)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NotificationRepo) publish(ctx context.Context, kind changefeed.Kind, before, after *notification.Notification) {
	if r.pub == nil {
		return
	}
	rec := changefeed.Record{Kind: kind, Table: changefeed.TableNotifications, CommitTime: time.Now().UTC()}
	if before != nil {
		rec.Before, _ = json.Marshal(before)
	}
	if after != nil {
		rec.After, _ = json.Marshal(after)
	}
	r.db.afterCommit(ctx, func() { r.pub.Publish(context.WithoutCancel(ctx), rec) })
}
