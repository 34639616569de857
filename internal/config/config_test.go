package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Empty(t, cfg.App.TrustedProxies)
	assert.Equal(t, 30*time.Second, cfg.Cache.ProjectionTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.OperationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Clicks.FlushInterval)
	assert.Equal(t, 24*time.Hour, cfg.Clicks.UniqueWindow)
	assert.Equal(t, 60*time.Second, cfg.Usage.CounterTTL)
	assert.Equal(t, time.Hour, cfg.Usage.SubscriptionMaxTTL)
	assert.Equal(t, "memory", cfg.Usage.QueueDriver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, int32(25), cfg.DB.MaxConns)
	assert.Empty(t, cfg.Auth.APIKeys)
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "APP_PORT=9090\nAPP_BASE_URL=https://sho.rt/\nAPI_KEYS=k1:user-1, k2:user-2\nCLICKS_FLUSH_INTERVAL=10s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CLICKS_FLUSH_INTERVAL", "5s")
	t.Setenv("USAGE_QUEUE_DRIVER", "NATS")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "https://sho.rt", cfg.App.BaseURL)
	assert.Equal(t, map[string]string{"k1": "user-1", "k2": "user-2"}, cfg.Auth.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.Clicks.FlushInterval)
	assert.Equal(t, "nats", cfg.Usage.QueueDriver)
}

func TestLoadFile_Invalid(t *testing.T) {
	t.Setenv("USAGE_QUEUE_DRIVER", "kafka")

	_, err := LoadFile("")
	assert.Error(t, err)
}

func TestLoadFile_TrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 192.168.0.0/16,")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.App.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	_, err = LoadFile("")
	assert.Error(t, err)
}

func TestParseAPIKeys(t *testing.T) {
	assert.Empty(t, parseAPIKeys(""))
	assert.Equal(t, map[string]string{"a": "u1"}, parseAPIKeys("a:u1,broken,"))
	assert.Equal(t, map[string]string{"a": "u:1"}, parseAPIKeys("a:u:1"))
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.DSN())
}
