package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadClientConfigDefaults(t *testing.T) {
	t.Setenv("CHAT_RECONNECT_MS", "")
	t.Setenv("CHAT_HEARTBEAT_MS", "")

	cfg := LoadClientConfig()

	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 4*time.Second, cfg.HeartbeatEvery)
	assert.Equal(t, 3, cfg.MissedHeartbeats)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
}

func TestLoadClientConfigOverrides(t *testing.T) {
	t.Setenv("CHAT_USER_ID", "42")
	t.Setenv("CHAT_RECONNECT_MS", "250")
	t.Setenv("CHAT_MISSED_HEARTBEATS", "5")
	t.Setenv("CHAT_WS_URL", "ws://chat.test/ws")

	cfg := LoadClientConfig()

	assert.Equal(t, int64(42), cfg.UserID)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 5, cfg.MissedHeartbeats)
	assert.Equal(t, "ws://chat.test/ws", cfg.WSURL)
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("JWT_EXPIRY_MIN", "soon")
	assert.Equal(t, 60, getEnvAsInt("JWT_EXPIRY_MIN", 60))
}
