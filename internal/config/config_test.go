package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t, "PORT", "ENVIRONMENT", "DEBUG", "AMQP_EXCHANGE")

	cfg := Load()
	assert.Equal(t, "8086", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "inbox_events", cfg.AMQPExchange)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("DEBUG", "true")
	t.Setenv("JWT_SECRET", "topsecret")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "topsecret", cfg.JWTSecret)
	assert.True(t, cfg.Debug)
}
