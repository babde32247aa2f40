package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server: REDIS_ADDR=localhost:6379 go test ./internal/redis
func newTestLimiter(t *testing.T, cfg RateLimitConfig) *RateLimiter {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := NewClient(Config{Addr: addr, DB: 15})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, Ping(context.Background(), client, 2*time.Second))
	return NewRateLimiter(client, cfg)
}

func TestAllowMessageWindow(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, RateLimitConfig{MessageLimit: 2, MessageWindow: time.Minute, ConnectLimit: 1, ConnectWindow: time.Minute})
	const userID = 990001
	require.NoError(t, rl.ResetUser(ctx, userID))
	t.Cleanup(func() { rl.ResetUser(context.Background(), userID) })

	first, err := rl.AllowMessage(ctx, userID)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, 2, first.Limit)

	second, err := rl.AllowMessage(ctx, userID)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Zero(t, second.Remaining)

	third, err := rl.AllowMessage(ctx, userID)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Positive(t, third.ResetIn)

	// connect attempts are counted separately
	conn, err := rl.AllowConnect(ctx, userID)
	require.NoError(t, err)
	assert.True(t, conn.Allowed)

	require.NoError(t, rl.ResetUser(ctx, userID))
	again, err := rl.AllowMessage(ctx, userID)
	require.NoError(t, err)
	assert.True(t, again.Allowed)
}

func TestPingUnreachable(t *testing.T) {
	client := NewClient(Config{Addr: "127.0.0.1:1"})
	defer client.Close()
	err := Ping(context.Background(), client, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
