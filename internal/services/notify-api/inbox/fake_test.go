package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
)

var errUnreachable = errors.New("backend unreachable")

// memBackend mimics the repository semantics of MarkRead and ListByUser.
type memBackend struct {
	mu    sync.Mutex
	rows  map[string]*notification.Notification
	fail  bool
	calls int
	// gate, when set, blocks ListByUser until closed
	gate chan struct{}
}

func newMemBackend() *memBackend {
	return &memBackend{rows: map[string]*notification.Notification{}}
}

func (b *memBackend) add(n *notification.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[n.ID] = n.Clone()
}

func (b *memBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *memBackend) ListByUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errUnreachable
	}
	var out []*notification.Notification
	for _, n := range b.rows {
		if n.UserID == userID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *memBackend) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errUnreachable
	}
	n, ok := b.rows[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n.Clone(), nil
}

func (b *memBackend) MarkRead(_ context.Context, userID string, ids []string, at time.Time) ([]notification.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return nil, errUnreachable
	}
	var out []notification.Receipt
	if ids == nil {
		for _, n := range b.rows {
			if n.UserID == userID && n.MarkRead(at) {
				out = append(out, notification.Receipt{ID: n.ID, ReadAt: at, Changed: true})
			}
		}
		return out, nil
	}
	for _, id := range ids {
		n, ok := b.rows[id]
		if !ok || n.UserID != userID {
			continue
		}
		changed := n.MarkRead(at)
		out = append(out, notification.Receipt{ID: id, ReadAt: *n.ReadAt, Changed: changed})
	}
	return out, nil
}

var base = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func mk(user string, i int, status notification.Status) *notification.Notification {
	n := &notification.Notification{
		ID:        fmt.Sprintf("n%d", i),
		UserID:    user,
		Title:     fmt.Sprintf("title %d", i),
		Type:      notification.TypeEventUpdate,
		Status:    notification.StatusUnread,
		Data:      notification.EventPayload{EventID: fmt.Sprint(i)},
		CreatedAt: base.Add(time.Duration(i) * time.Minute),
	}
	if status == notification.StatusRead {
		n.MarkRead(base)
	}
	return n
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
