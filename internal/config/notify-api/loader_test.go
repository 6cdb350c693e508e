package notify_api_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, 2*time.Second, cfg.DB.Postgres.QueryTimeout)
	assert.Equal(t, 3*time.Second, cfg.Inbox.LoadTimeout)
	assert.Equal(t, 50, cfg.Inbox.PageSize)
	assert.Equal(t, "campusbell_changes", cfg.ChangeFeed.Channel)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "notify-api", cfg.LoggerConfig().App)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify-api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  driver: sqlite
  sqlite_path: /tmp/bell.db
auth:
  jwt_secret: file-secret
push:
  vapid_public_key: BPub
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "/tmp/bell.db", cfg.DB.SQLite)
	assert.Equal(t, "BPub", cfg.Push.VAPIDPublicKey)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	_, err := Load("")
	var cerr ErrConfig
	require.ErrorAs(t, err, &cerr)
}
