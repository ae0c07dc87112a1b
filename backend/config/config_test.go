package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setLiveKit(t *testing.T) {
	t.Setenv("LIVEKIT_API_KEY", "devkey")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setLiveKit(t)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.APIListenAddr)
	assert.Equal(t, ":8888", cfg.WSListenAddr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.LiveKitTokenTTL)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestFlagsOverrideEnv(t *testing.T) {
	setLiveKit(t)
	t.Setenv("BLINDDATE_API_LISTEN_ADDR", ":9000")
	t.Setenv("BLINDDATE_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load([]string{"-a", ":9100", "--log-level", "info"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.APIListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	setLiveKit(t)

	_, err := Load([]string{"--store", "redis"})
	assert.ErrorIs(t, err, ErrUnknownStore)

	_, err = Load([]string{"--store", "postgres"})
	assert.ErrorIs(t, err, ErrMissing)

	cfg, err := Load([]string{"--store", "postgres", "--postgres-dsn", "postgres://localhost/blinddate"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store)

	t.Setenv("LIVEKIT_API_SECRET", "")
	_, err = Load(nil)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BLINDDATE_STORE=dynamo\n"), 0o600))
	t.Setenv("BLINDDATE_STORE", "memory")
	setLiveKit(t)

	LoadEnvFiles(path)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "dynamo", cfg.Store)
}
