//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/NordCoder/Campusbell/internal/auth"
	"github.com/NordCoder/Campusbell/internal/domain/changefeed"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type created struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func createNotification(t *testing.T, cfg Cfg, userID, title string) created {
	t.Helper()
	raw := HTTPDoJSON(t, http.MethodPost, cfg.APIBase+"/v1/internal/notifications",
		Token(t, cfg.JWTSecret, "scheduler", auth.RoleService),
		map[string]any{
			"user_id": userID,
			"title":   title,
			"message": "Moved to the main hall",
			"type":    "event_update",
			"data":    map[string]any{"event_id": "42"},
		}, http.StatusCreated)
	var n created
	require.NoError(t, json.Unmarshal(raw, &n))
	require.NotEmpty(t, n.ID)
	return n
}

func TestNotifyAPI_CreateIsPersistedAndPublished(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.APIBase+"/healthz", 30*time.Second)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.ChangesTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID := uuid.NewString()
	n := createNotification(t, cfg, userID, "Hackathon moved")
	require.Equal(t, "unread", n.Status)

	status, readAt := NotificationStatus(t, db, n.ID)
	require.Equal(t, "unread", status)
	require.False(t, readAt.Valid)

	rec, ok := WaitChange(t, cfg.KafkaBootstrap, cfg.ChangesTopic, n.ID, 30*time.Second)
	require.True(t, ok, "change envelope for %s not published", n.ID)
	require.Equal(t, changefeed.KindInsert, rec.Kind)
	require.Equal(t, changefeed.TableNotifications, rec.Table)
}

func TestNotifyAPI_MarkReadFlow(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.APIBase+"/healthz", 30*time.Second)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	userID := uuid.NewString()
	tok := Token(t, cfg.JWTSecret, userID, auth.RoleStudent)
	first := createNotification(t, cfg, userID, "first")
	createNotification(t, cfg, userID, "second")

	var count struct {
		Unread int `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(HTTPDoJSON(t, http.MethodGet, cfg.APIBase+"/v1/notifications/unread-count", tok, nil, http.StatusOK), &count))
	require.Equal(t, 2, count.Unread)

	HTTPDoJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/notifications/%s/read", cfg.APIBase, first.ID), tok, nil, http.StatusOK)
	HTTPDoJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/notifications/%s/read", cfg.APIBase, first.ID), tok, nil, http.StatusConflict)

	status, readAt := NotificationStatus(t, db, first.ID)
	require.Equal(t, "read", status)
	require.True(t, readAt.Valid)

	HTTPDoJSON(t, http.MethodPost, cfg.APIBase+"/v1/notifications/read-all", tok, nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(HTTPDoJSON(t, http.MethodGet, cfg.APIBase+"/v1/notifications/unread-count", tok, nil, http.StatusOK), &count))
	require.Equal(t, 0, count.Unread)
}
