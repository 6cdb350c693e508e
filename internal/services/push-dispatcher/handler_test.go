package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/NordCoder/Campusbell/internal/domain/notification"
	"github.com/NordCoder/Campusbell/internal/domain/push"
	"github.com/NordCoder/Campusbell/internal/obs/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type harness struct {
	h      *Handler
	prefs  *memPrefs
	subs   *memSubs
	sender *fakeSender
	mail   *fakeMail
}

func newHarness() *harness {
	hs := &harness{
		prefs:  &memPrefs{byUser: map[string]*notification.Preferences{}},
		subs:   &memSubs{byUser: map[string]*push.Subscription{}},
		sender: &fakeSender{},
		mail:   &fakeMail{},
	}
	hs.subs.byUser["u1"] = &push.Subscription{
		UserID: "u1", Endpoint: "https://push.example/u1", Keys: push.Keys{P256dh: "k", Auth: "a"},
	}
	hs.h = &Handler{
		Prefs:     hs.prefs,
		Subs:      hs.subs,
		Sender:    hs.sender,
		Dedup:     &memDedup{claimed: map[string]bool{}},
		Mail:      hs.mail,
		Directory: staticDirectory{"u1": "ada@college.edu"},
		BaseURL:   "https://campus.example/",
		Retry: retry.Policy{
			Name:      "push_test",
			Attempts:  2,
			Backoff:   retry.ExpoJitter{Base: time.Millisecond},
			Retryable: func(err error) bool { return !errors.Is(err, push.ErrSubscriptionGone) },
		},
	}
	return hs
}

func created(id string, t notification.Type, data notification.Payload) *notification.Notification {
	return &notification.Notification{
		ID: id, UserID: "u1", Title: "Hackathon moved", Message: "Now in room 5",
		Type: t, Status: notification.StatusUnread, Data: data,
		CreatedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandlePushesAndEmails(t *testing.T) {
	hs := newHarness()
	n := created("n1", notification.TypeEventUpdate, notification.EventPayload{EventID: "5"})

	require.NoError(t, hs.h.Handle(context.Background(), n))

	require.Len(t, hs.sender.sent, 1)
	msg := hs.sender.sent[0]
	assert.Equal(t, "n1", msg.Tag)
	assert.Equal(t, "/events/5", msg.URL())

	require.Len(t, hs.mail.sent, 1)
	assert.Equal(t, "ada@college.edu", hs.mail.sent[0].to)
	assert.Contains(t, hs.mail.sent[0].body, "https://campus.example/events/5")
}

func TestHandleDeliversOncePerNotification(t *testing.T) {
	hs := newHarness()
	n := created("n1", notification.TypeSystem, notification.SystemPayload{})

	require.NoError(t, hs.h.Handle(context.Background(), n))
	require.NoError(t, hs.h.Handle(context.Background(), n))

	assert.Len(t, hs.sender.sent, 1)
	assert.Len(t, hs.mail.sent, 1)
}

func TestHandleHonoursPreferences(t *testing.T) {
	hs := newHarness()
	p := notification.DefaultPreferences("u1")
	p.ForumNotifications = false
	p.EmailEnabled = false
	hs.prefs.byUser["u1"] = &p

	require.NoError(t, hs.h.Handle(context.Background(), created("n1", notification.TypeForumReply, notification.ForumPayload{TopicID: "t"})))
	assert.Empty(t, hs.sender.sent)

	require.NoError(t, hs.h.Handle(context.Background(), created("n2", notification.TypeEventReminder, notification.EventPayload{EventID: "1"})))
	assert.Len(t, hs.sender.sent, 1)
	assert.Empty(t, hs.mail.sent)
}

func TestHandleRemovesGoneSubscription(t *testing.T) {
	hs := newHarness()
	hs.sender.err = push.ErrSubscriptionGone

	require.NoError(t, hs.h.Handle(context.Background(), created("n1", notification.TypeSystem, notification.SystemPayload{})))

	_, err := hs.subs.GetByUser(context.Background(), "u1")
	require.ErrorIs(t, err, push.ErrNotFound)
	assert.Equal(t, 1, hs.sender.calls)
}

func TestHandleReleasesClaimOnTransientFailure(t *testing.T) {
	hs := newHarness()
	hs.sender.err = errors.New("push service unavailable")
	n := created("n1", notification.TypeSystem, notification.SystemPayload{})

	require.Error(t, hs.h.Handle(context.Background(), n))
	assert.Equal(t, 2, hs.sender.calls)

	hs.sender.err = nil
	require.NoError(t, hs.h.Handle(context.Background(), n))
	assert.Len(t, hs.sender.sent, 1)
}

func TestHandleWithoutSubscriptionStillEmails(t *testing.T) {
	hs := newHarness()
	delete(hs.subs.byUser, "u1")

	require.NoError(t, hs.h.Handle(context.Background(), created("n1", notification.TypeSystem, notification.SystemPayload{})))
	assert.Empty(t, hs.sender.sent)
	assert.Len(t, hs.mail.sent, 1)
}

func TestHandleLogsMailFailure(t *testing.T) {
	hs := newHarness()
	core, logs := observer.New(zap.InfoLevel)
	hs.h.Log = zap.New(core)
	hs.mail.err = errors.New("smtp: 421 service not available")

	require.NoError(t, hs.h.Handle(context.Background(), created("n1", notification.TypeSystem, notification.SystemPayload{})))
	assert.Len(t, hs.sender.sent, 1)

	entries := logs.FilterMessage("send email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "n1", entries[0].ContextMap()["id"])
	assert.Contains(t, entries[0].ContextMap()["error"], "421")
}

func TestHandleRecordFiltersChanges(t *testing.T) {
	hs := newHarness()
	row, err := json.Marshal(created("n1", notification.TypeSystem, notification.SystemPayload{}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, hs.h.HandleRecord(ctx, changefeed.Record{Kind: changefeed.KindUpdate, Table: changefeed.TableNotifications, After: row}))
	require.NoError(t, hs.h.HandleRecord(ctx, changefeed.Record{Kind: changefeed.KindInsert, Table: changefeed.TableEvents, After: row}))
	require.NoError(t, hs.h.HandleRecord(ctx, changefeed.Record{Kind: changefeed.KindInsert, Table: changefeed.TableNotifications, After: json.RawMessage(`{"id":`)}))
	assert.Empty(t, hs.sender.sent)

	require.NoError(t, hs.h.HandleRecord(ctx, changefeed.Record{Kind: changefeed.KindInsert, Table: changefeed.TableNotifications, After: row}))
	assert.Len(t, hs.sender.sent, 1)
}
