package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "ChatGPT", cfg.Archive.DefaultModel)
	assert.Equal(t, "conversation-events", cfg.Kafka.Topics.ConversationEvents)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, 60, cfg.Server.UploadsPerMinute)
	assert.Equal(t, time.Hour, cfg.Reconcile.GracePeriod)
	assert.Equal(t, time.Hour, cfg.Reconcile.Interval)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.yaml")
	yaml := `
server:
  port: 4000
archive:
  baseUrl: https://archive.example.com
blob:
  inMemory: true
  dir: ""
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CA_POSTGRES_HOST", "db.internal")
	t.Setenv("CA_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CA_REDIS_ENABLED", "true")
	t.Setenv("CA_POSTGRES_ENABLED", "false")
	t.Setenv("CA_RECONCILE_INTERVAL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "https://archive.example.com", cfg.Archive.BaseURL)
	assert.True(t, cfg.Blob.InMemory)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Blob.Dir = ""
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Archive.DefaultModel = ""
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Reconcile.Interval = -time.Minute
	assert.Error(t, cfg.Validate())

	assert.NoError(t, defaultConfig().Validate())
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", p.DSN())
}
