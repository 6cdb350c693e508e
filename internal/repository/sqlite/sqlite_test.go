package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	recs []changefeed.Record
}

func (r *recorder) Publish(_ context.Context, rec changefeed.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) kinds() []changefeed.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]changefeed.Kind, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, rec.Kind)
	}
	return out
}

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var t0 = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *NotificationRepo, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(context.Background(), &notification.Notification{
			ID:        user + "-" + string(rune('a'+i)),
			UserID:    user,
			Title:     "Event changed",
			Type:      notification.TypeEventUpdate,
			Status:    notification.StatusUnread,
			Data:      notification.EventPayload{EventID: "5"},
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestNotificationRepo_ListNewestFirst(t *testing.T) {
	db := openTest(t)
	pub := &recorder{}
	repo := NewNotificationRepo(db, pub)
	seed(t, repo, "u1", 3)
	seed(t, repo, "u2", 1)

	list, err := repo.ListByUser(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1-c", list[0].ID)
	assert.Equal(t, "u1-b", list[1].ID)
	assert.Equal(t, notification.EventPayload{EventID: "5"}, list[0].Data)
	assert.True(t, t0.Add(2*time.Minute).Equal(list[0].CreatedAt))

	c, err := repo.CountUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, c)
	assert.Len(t, pub.kinds(), 4)

	err = repo.Create(context.Background(), list[0])
	assert.ErrorIs(t, err, ErrConflict)
}

func TestNotificationRepo_MarkRead(t *testing.T) {
	db := openTest(t)
	pub := &recorder{}
	repo := NewNotificationRepo(db, pub)
	seed(t, repo, "u1", 3)
	ctx := context.Background()
	at := t0.Add(time.Hour)

	rs, err := repo.MarkRead(ctx, "u1", []string{"u1-a", "missing"}, at)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].Changed)
	assert.True(t, at.Equal(rs[0].ReadAt))

	rs, err = repo.MarkRead(ctx, "u1", []string{"u1-a"}, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.False(t, rs[0].Changed)
	assert.True(t, at.Equal(rs[0].ReadAt), "read_at of the first transition is kept")

	// another user cannot touch u1's rows
	rs, err = repo.MarkRead(ctx, "u2", []string{"u1-b"}, at)
	require.NoError(t, err)
	assert.Empty(t, rs)

	rs, err = repo.MarkRead(ctx, "u1", nil, at)
	require.NoError(t, err)
	assert.Len(t, rs, 2)

	c, err := repo.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	n, err := repo.GetByID(ctx, "u1-c")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusRead, n.Status)
	require.NoError(t, n.Validate())

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, notification.ErrNotFound)

	kinds := pub.kinds()
	assert.Equal(t, []changefeed.Kind{
		changefeed.KindInsert, changefeed.KindInsert, changefeed.KindInsert,
		changefeed.KindUpdate, changefeed.KindUpdate, changefeed.KindUpdate,
	}, kinds)
}

func TestTransactor_PublishesAfterCommitOnly(t *testing.T) {
	db := openTest(t)
	pub := &recorder{}
	repo := NewNotificationRepo(db, pub)
	tx := NewTransactor(db)
	ctx := context.Background()

	n := &notification.Notification{ID: "x", UserID: "u1", Title: "t", Type: notification.TypeSystem, Status: notification.StatusUnread}
	err := tx.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, n))
		assert.Empty(t, pub.kinds())
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, pub.kinds())
	_, err = repo.GetByID(ctx, "x")
	assert.ErrorIs(t, err, notification.ErrNotFound)

	require.NoError(t, tx.WithTx(ctx, func(ctx context.Context) error { return repo.Create(ctx, n) }))
	assert.Equal(t, []changefeed.Kind{changefeed.KindInsert}, pub.kinds())
}

func TestPreferencesRepo(t *testing.T) {
	repo := NewPreferencesRepo(openTest(t))
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, notification.ErrNotFound)

	p := notification.DefaultPreferences("u1")
	p.PushEnabled = false
	require.NoError(t, repo.Upsert(ctx, &p))
	p.ForumNotifications = false
	require.NoError(t, repo.Upsert(ctx, &p))

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.PushEnabled)
	assert.False(t, got.ForumNotifications)
	assert.True(t, got.EmailEnabled)
}

func TestPushSubscriptionRepo_OnePerUser(t *testing.T) {
	repo := NewPushSubscriptionRepo(openTest(t))
	ctx := context.Background()

	first := &push.Subscription{UserID: "u1", Endpoint: "https://push.example/1", Keys: push.Keys{P256dh: "p1", Auth: "a1"}}
	require.NoError(t, repo.Upsert(ctx, first))
	second := &push.Subscription{UserID: "u1", Endpoint: "https://push.example/2", Keys: push.Keys{P256dh: "p2", Auth: "a2"}}
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/2", got.Endpoint)
	assert.Equal(t, "p2", got.Keys.P256dh)

	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example/2"))
	_, err = repo.GetByUser(ctx, "u1")
	assert.ErrorIs(t, err, push.ErrNotFound)
}
