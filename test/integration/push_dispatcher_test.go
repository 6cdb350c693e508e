//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func notificationRow(t *testing.T, id, userID, typ, title string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":         id,
		"user_id":    userID,
		"title":      title,
		"message":    "See you there",
		"type":       typ,
		"status":     "unread",
		"data":       map[string]any{"event_id": "7"},
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	return raw
}

func TestPushDispatcher_EmailsWhenEnabled(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.DispatcherURL, 30*time.Second)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangesTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID := uuid.NewString()
	email := fmt.Sprintf("pd-%s@example.com", userID[:8])
	SeedDirectoryUser(t, db, userID, email)
	SeedPreferences(t, db, userID, false, true)

	id := uuid.NewString()
	PublishChange(t, cfg.KafkaBootstrap, cfg.ChangesTopic, changefeed.Record{
		Kind:       changefeed.KindInsert,
		Table:      changefeed.TableNotifications,
		After:      notificationRow(t, id, userID, "event_reminder", "Workshop tomorrow"),
		CommitTime: time.Now().UTC(),
	})

	rep, ok := WaitMail(t, cfg.MailhogAPI, email, 30*time.Second)
	require.True(t, ok, "no mail for %s", email)
	subj := strings.Join(rep.Items[0].Content.Headers["Subject"], "")
	require.Contains(t, subj, "Workshop tomorrow")
	require.Contains(t, rep.Items[0].Content.Body, "/events/7")

	// redelivery of the same insert is deduplicated
	PublishChange(t, cfg.KafkaBootstrap, cfg.ChangesTopic, changefeed.Record{
		Kind:  changefeed.KindInsert,
		Table: changefeed.TableNotifications,
		After: notificationRow(t, id, userID, "event_reminder", "Workshop tomorrow"),
	})
	time.Sleep(3 * time.Second)
	rep, _ = WaitMail(t, cfg.MailhogAPI, email, time.Second)
	require.Equal(t, 1, rep.Total)
}

func TestPushDispatcher_MutedCategoryIsSkipped(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.DispatcherURL, 30*time.Second)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangesTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID := uuid.NewString()
	email := fmt.Sprintf("muted-%s@example.com", userID[:8])
	SeedDirectoryUser(t, db, userID, email)
	SeedPreferences(t, db, userID, false, true)
	_, err := db.Exec(`update notification_preferences set forum_notifications = false where user_id = $1`, userID)
	require.NoError(t, err)

	PublishChange(t, cfg.KafkaBootstrap, cfg.ChangesTopic, changefeed.Record{
		Kind:  changefeed.KindInsert,
		Table: changefeed.TableNotifications,
		After: notificationRow(t, uuid.NewString(), userID, "forum_reply", "New reply"),
	})
	ExpectNoMail(t, cfg.MailhogAPI, email, 6*time.Second)
}
