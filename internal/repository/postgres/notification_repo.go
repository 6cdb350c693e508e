package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	notifColumns = `id, user_id, title, message, type, status, data, created_at, read_at`

	qNotifInsert = `
INSERT INTO notifications (id, user_id, title, message, type, status, data, created_at, read_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), $9)
RETURNING created_at;`

	qNotifByID = `
SELECT ` + notifColumns + `
FROM notifications
WHERE id = $1;`

	qNotifByUser = `
SELECT ` + notifColumns + `
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`

	qNotifCountUnread = `
SELECT count(*)
FROM notifications
WHERE user_id = $1 AND status = 'unread';`

	qNotifMarkAll = `
UPDATE notifications
SET status = 'read', read_at = $2
WHERE user_id = $1 AND status = 'unread'
RETURNING id, read_at, TRUE;`

	// rows already read are reported too, so callers can tell
	// "already read" from "does not exist"
	qNotifMarkIDs = `
WITH upd AS (
    UPDATE notifications
    SET status = 'read', read_at = $3
    WHERE user_id = $1 AND id = ANY($2) AND status = 'unread'
    RETURNING id, read_at
)
SELECT id, read_at, TRUE FROM upd
UNION ALL
SELECT id, read_at, FALSE
FROM notifications
WHERE user_id = $1 AND id = ANY($2) AND status = 'read'
  AND id NOT IN (SELECT id FROM upd);`
)

func (r *NotificationRepoImpl) Create(ctx context.Context, n *notification.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		string(n.Type),
		string(n.Status),
		data,
		nullTime(n.CreatedAt),
		n.ReadAt,
	).Scan(&n.CreatedAt); err != nil {
		return mapErr(err, notification.ErrNotFound, "insert notification")
	}
	return nil
}

func (r *NotificationRepoImpl) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	n, err := scanNotification(r.db.execQueryer(ctx).QueryRow(ctx, qNotifByID, id))
	if err != nil {
		return nil, mapErr(err, notification.ErrNotFound, "get notification")
	}
	return n, nil
}

func (r *NotificationRepoImpl) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qNotifByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepoImpl) CountUnread(ctx context.Context, userID string) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifCountUnread, userID).Scan(&c); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return c, nil
}

func (r *NotificationRepoImpl) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) ([]notification.Receipt, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if ids == nil {
		rows, err = r.db.execQueryer(ctx).Query(ctx, qNotifMarkAll, userID, at)
	} else {
		if len(ids) == 0 {
			return nil, nil
		}
		rows, err = r.db.execQueryer(ctx).Query(ctx, qNotifMarkIDs, userID, ids, at)
	}
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var out []notification.Receipt
	for rows.Next() {
		var rc notification.Receipt
		if err := rows.Scan(&rc.ID, &rc.ReadAt, &rc.Changed); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n           notification.Notification
		typ, status string
		data        []byte
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &status, &data, &n.CreatedAt, &n.ReadAt); err != nil {
		return nil, err
	}
	n.Type = notification.Type(typ)
	n.Status = notification.Status(status)
	p, err := notification.DecodePayload(n.Type, data)
	if err != nil {
		return nil, err
	}
	n.Data = p
	return &n, nil
}

func encodeData(p notification.Payload) ([]byte, error) {
	if p == nil {
		return []byte(`{}`), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
