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
	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 2, cfg.MaxSessionsPerUser)
	assert.Equal(t, 20, cfg.DBMaxConnections())
	assert.Equal(t, 60*time.Second, cfg.WSPongTimeout)
	assert.Empty(t, cfg.Redis.URL)
	assert.NotEmpty(t, cfg.JWT.AccessSecret)
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
max_sessions_per_user: 3
kafka_brokers: ["k1:9092"]
ws_max_message_size: 8192
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("MAX_SESSIONS_PER_USER", "4")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("JWT_ACCESS_SECRET", "s3cret")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 4, cfg.MaxSessionsPerUser)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(8192), cfg.WSMaxMessageSize)
	assert.Equal(t, "s3cret", cfg.JWT.AccessSecret)
}

func TestLoadBrokenYAMLFallsBackToDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: [oops"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerAddr)
}

func TestNonPositiveSessionCapFallsBackToTwo(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MAX_SESSIONS_PER_USER", "0")

	assert.Equal(t, 2, Load().MaxSessionsPerUser)
}
