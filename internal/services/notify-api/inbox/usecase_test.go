package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repoBackend turns memBackend into a full notification.Repo.
type repoBackend struct{ *memBackend }

func (r repoBackend) Create(_ context.Context, n *notification.Notification) error {
	r.add(n)
	return nil
}

func (r repoBackend) CountUnread(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return 0, errUnreachable
	}
	c := 0
	for _, n := range r.rows {
		if n.UserID == userID && n.IsUnread() {
			c++
		}
	}
	return c, nil
}

type memPrefs struct {
	m map[string]notification.Preferences
}

func (p *memPrefs) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	v, ok := p.m[userID]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return &v, nil
}

func (p *memPrefs) Upsert(_ context.Context, v *notification.Preferences) error {
	p.m[v.UserID] = *v
	return nil
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingOutbox struct {
	keys  []string
	kinds []outbox.Kind
	data  [][]byte
	err   error
}

func (o *recordingOutbox) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	if o.err != nil {
		return o.err
	}
	o.keys = append(o.keys, key)
	o.kinds = append(o.kinds, kind)
	o.data = append(o.data, data)
	return nil
}

func newUsecase(out Enqueuer) (*Usecase, repoBackend, *Registry) {
	b := repoBackend{newMemBackend()}
	reg := NewRegistry(b, nil, Options{})
	uc := NewUsecase(b, &memPrefs{m: map[string]notification.Preferences{}}, reg, inlineTx{}, out, fixedClock{t: base}, nil)
	return uc, b, reg
}

func TestUsecase_CreateEnqueuesEnvelope(t *testing.T) {
	out := &recordingOutbox{}
	uc, b, _ := newUsecase(out)

	n, err := uc.Create(context.Background(), CreateCommand{
		UserID: user, Title: "Hackathon moved", Message: "Now in hall B",
		Type: notification.TypeEventUpdate, Data: notification.EventPayload{EventID: "5"},
	})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusUnread, n.Status)
	assert.Equal(t, "/events/5", n.TargetURL())

	_, err = b.GetByID(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, out.keys, 1)
	assert.Equal(t, "notification:"+n.ID, out.keys[0])
	assert.Equal(t, outbox.KindNotificationCreated, out.kinds[0])
	rec, err := changefeed.DecodeEnvelope(out.data[0])
	require.NoError(t, err)
	assert.True(t, changefeed.NotificationsFor(user).Match(rec))
	assert.Equal(t, changefeed.KindInsert, rec.Kind)
}

func TestUsecase_CreateRejectsInvalid(t *testing.T) {
	uc, _, _ := newUsecase(nil)
	ctx := context.Background()

	_, err := uc.Create(ctx, CreateCommand{UserID: user, Title: " ", Type: notification.TypeSystem})
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = uc.Create(ctx, CreateCommand{UserID: user, Title: "x", Type: "party"})
	assert.ErrorIs(t, err, notification.ErrInvalidType)

	_, err = uc.Create(ctx, CreateCommand{UserID: user, Title: "x", Type: notification.TypeSystem, Data: notification.ForumPayload{TopicID: "1"}})
	assert.ErrorIs(t, err, notification.ErrInvalidPayload)
}

func TestUsecase_CreateFailsWhenOutboxFails(t *testing.T) {
	uc, _, _ := newUsecase(&recordingOutbox{err: errors.New("disk full")})
	_, err := uc.Create(context.Background(), CreateCommand{UserID: user, Title: "x", Type: notification.TypeSystem})
	assert.Error(t, err)
}

func TestUsecase_MarkReadWithoutLiveStore(t *testing.T) {
	uc, b, _ := newUsecase(nil)
	b.add(mk(user, 1, notification.StatusUnread))
	ctx := context.Background()

	ok, err := uc.MarkRead(ctx, user, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = uc.MarkRead(ctx, user, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = uc.MarkRead(ctx, user, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, uc.UnreadCount(ctx, user))
}

func TestUsecase_MarkReadGoesThroughLiveStore(t *testing.T) {
	uc, b, reg := newUsecase(nil)
	b.add(mk(user, 1, notification.StatusUnread))
	b.add(mk(user, 2, notification.StatusUnread))
	ctx := context.Background()

	s, release := reg.Acquire(ctx, user)
	defer release()
	require.Equal(t, 2, s.Unread())

	ok, err := uc.MarkRead(ctx, user, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Unread())
	assert.Equal(t, 1, uc.UnreadCount(ctx, user))

	ok, err = uc.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Unread())
	assert.Len(t, uc.List(ctx, user, 0), 2)
}

func TestUsecase_ListFailsSoft(t *testing.T) {
	uc, b, _ := newUsecase(nil)
	b.setFail(true)
	items := uc.List(context.Background(), user, 10)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, 0, uc.UnreadCount(context.Background(), user))
}

func TestUsecase_Preferences(t *testing.T) {
	uc, _, _ := newUsecase(nil)
	ctx := context.Background()

	p := uc.Preferences(ctx, user)
	assert.Equal(t, notification.DefaultPreferences(user), p)

	off := false
	got, err := uc.UpdatePreferences(ctx, user, notification.PreferencesPatch{ForumNotifications: &off})
	require.NoError(t, err)
	assert.False(t, got.ForumNotifications)
	assert.True(t, got.PushEnabled)
	assert.Equal(t, base, got.UpdatedAt)

	again := uc.Preferences(ctx, user)
	assert.False(t, again.ForumNotifications)
	assert.False(t, again.Allows(notification.TypeForumMention))
	assert.True(t, again.Allows(notification.TypeEventReminder))
}
