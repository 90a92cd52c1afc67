package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "test_value")
	assert.Equal(t, "test_value", GetEnv("TEST_ENV_VAR", "default_value"))
	assert.Equal(t, "default_value", GetEnv("NON_EXISTENT_VAR", "default_value"))
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.ApiAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, int64(65536), c.MaxMessageBytes)
	assert.Equal(t, 10*time.Second, c.WriteTimeout)
	assert.Equal(t, 60*time.Second, c.PongWait)
	assert.Equal(t, 54*time.Second, c.PingInterval)
	assert.Equal(t, 1024, c.TranscriptBuffer)
	assert.Equal(t, "echo-exchanges", c.KafkaTopic)
	assert.False(t, c.KafkaEnabled())
	assert.False(t, c.MongoEnabled())
	assert.False(t, c.AuthEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", "127.0.0.1:9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", c.ApiAddr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.True(t, c.KafkaEnabled())
	assert.True(t, c.MongoEnabled())
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MONGO_DATABASE=fromfile\nAPI_ADDR=:7000\n"), 0o600))
	t.Setenv("API_ADDR", ":7100")
	t.Cleanup(func() { os.Unsetenv("MONGO_DATABASE") })

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", c.MongoDatabase)
	assert.Equal(t, ":7100", c.ApiAddr)
}

func TestLoadMissingDotEnvIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestLoadRejectsPingAfterPongWait(t *testing.T) {
	t.Setenv("PING_INTERVAL", "90s")
	t.Setenv("PONG_WAIT", "60s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PingInterval")
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	_, err := Load()
	require.Error(t, err)
}
