package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())

	// Remote config
	assert.Equal(t, "localhost:18083", cfg.Remote.Endpoint)
	assert.Equal(t, TransportGRPC, cfg.Remote.Transport)
	assert.Equal(t, 10*time.Second, cfg.Remote.CallTimeout)
	assert.Equal(t, 2, cfg.Remote.RetryMax)

	assert.Equal(t, 500*time.Millisecond, cfg.Progress.Interval)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Redis.SnapshotTTL)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SessionTTL)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, uint32(5), cfg.Breaker.MaxFailures)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"VBOX_ENDPOINT":        "vbox.lab:18083",
		"VBOX_TRANSPORT":       "http",
		"VBOX_USER":            "admin",
		"VBOX_PASSWORD":        "secret",
		"VBOX_CALL_TIMEOUT":    "3s",
		"PROGRESS_INTERVAL":    "250ms",
		"REDIS_ENABLED":        "true",
		"REDIS_ADDR":           "redis://cache:6379/2",
		"SNAPSHOT_TTL":         "15m",
		"LOG_LEVEL":            "debug",
		"RATE_LIMIT_ENABLED":   "false",
		"BREAKER_MAX_FAILURES": "9",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "vbox.lab:18083", cfg.Remote.Endpoint)
	assert.Equal(t, TransportHTTP, cfg.Remote.Transport)
	assert.Equal(t, "admin", cfg.Remote.User)
	assert.Equal(t, "secret", cfg.Remote.Password)
	assert.Equal(t, 3*time.Second, cfg.Remote.CallTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Progress.Interval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Redis.SnapshotTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, uint32(9), cfg.Breaker.MaxFailures)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown transport", map[string]string{"VBOX_TRANSPORT": "soap"}},
		{"zero interval", map[string]string{"PROGRESS_INTERVAL": "0s"}},
		{"negative timeout", map[string]string{"VBOX_CALL_TIMEOUT": "-1s"}},
		{"unparsable duration", map[string]string{"BREAKER_TIMEOUT": "soon"}},
		{"zero rate", map[string]string{"RATE_LIMIT_RPS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back rather than failing
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}

func TestRateLimitIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.RequestsPerSecond = 0
	assert.NoError(t, cfg.Validate())
}
