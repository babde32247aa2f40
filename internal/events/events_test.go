package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	matjip_errors "matjip-chat/pkg/errors"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		key     string
		want    Channel
		wantErr bool
	}{
		{key: RoomChannel("abc"), want: Channel{Kind: KindRoom, RoomUUID: "abc"}},
		{key: RoomReadChannel("abc"), want: Channel{Kind: KindRoomRead, RoomUUID: "abc"}},
		{key: RoomSendChannel("abc"), want: Channel{Kind: KindRoomSend, RoomUUID: "abc"}},
		{key: UserNotificationChannel(42), want: Channel{Kind: KindUserNotifications, UserID: 42}},
		{key: "room:", wantErr: true},
		{key: "room:a:b:read", wantErr: true},
		{key: "user:x:notifications", wantErr: true},
		{key: "user:0:notifications", wantErr: true},
		{key: "presence:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ParseChannel(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"event","channel":"room:r1","payload":{"id":7}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameEvent, f.Type)
	assert.Equal(t, "room:r1", f.Channel)
	assert.JSONEq(t, `{"id":7}`, string(f.Payload))

	f, err = DecodeFrame([]byte(`{"type":"connected","userId":3,"heartbeatMs":4000,"reconnectMs":5000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.UserID)
	assert.Equal(t, int64(4000), f.HeartbeatMs)

	for _, raw := range []string{`not json`, `{"type":"event"}`, `{"type":"bogus"}`} {
		_, err := DecodeFrame([]byte(raw))
		assert.True(t, errors.Is(err, matjip_errors.ErrMalformedFrame), raw)
	}
}

func TestNewPublishFrame(t *testing.T) {
	f, err := NewPublishFrame(RoomReadChannel("r1"), nil)
	require.NoError(t, err)
	assert.Empty(t, f.Payload)

	f, err = NewPublishFrame(RoomSendChannel("r1"), map[string]string{"content": "hi"})
	require.NoError(t, err)
	data, err := EncodeFrame(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"publish","channel":"room:r1:send","payload":{"content":"hi"}}`, string(data))
}

func TestLocalBusDeliversMatchingChannels(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, []string{"room:*"}, func(channel string, _ []byte) {
			got <- channel
		})
	}()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, UserNotificationChannel(1), []byte("x")))
	require.NoError(t, bus.Publish(ctx, RoomChannel("r1"), []byte("y")))

	select {
	case ch := <-got:
		assert.Equal(t, "room:r1", ch)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
