package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "be-proc-approvals", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8086, cfg.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.NATSURL, "event publishing is off unless configured")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE_NAME", "approvals-test")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_READ_TIMEOUT", "5s")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg := Load()

	assert.Equal(t, "approvals-test", cfg.ServiceName)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 8086, cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}
