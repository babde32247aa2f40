package events

import (
	"encoding/json"
	"fmt"

	matjip_errors "matjip-chat/pkg/errors"
)

type FrameType string

const (
	FrameConnected   FrameType = "connected"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
)

// Frame is one message on the live connection, in either direction.
type Frame struct {
	Type        FrameType       `json:"type"`
	Channel     string          `json:"channel,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	UserID      int64           `json:"userId,omitempty"`
	HeartbeatMs int64           `json:"heartbeatMs,omitempty"`
	ReconnectMs int64           `json:"reconnectMs,omitempty"`
}

// Error codes carried by error frames and REST error responses.
const (
	CodeBlockedUser    = "BLOCKED_USER"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeConflict       = "CONFLICT"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// DecodeFrame parses a raw frame and rejects frames that cannot be acted on.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", matjip_errors.ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameConnected, FramePing, FramePong, FrameError:
	case FrameSubscribe, FrameUnsubscribe, FramePublish, FrameEvent:
		if f.Channel == "" {
			return Frame{}, fmt.Errorf("%w: %s frame without channel", matjip_errors.ErrMalformedFrame, f.Type)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", matjip_errors.ErrMalformedFrame, f.Type)
	}
	return f, nil
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// NewEventFrame wraps a payload delivered on channel.
func NewEventFrame(channel string, payload []byte) Frame {
	return Frame{Type: FrameEvent, Channel: channel, Payload: payload}
}

// NewPublishFrame marshals v as the payload of a publish frame. A nil v publishes no payload.
func NewPublishFrame(channel string, v any) (Frame, error) {
	f := Frame{Type: FramePublish, Channel: channel}
	if v == nil {
		return f, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	f.Payload = data
	return f, nil
}

func NewErrorFrame(channel, code, message string) Frame {
	return Frame{Type: FrameError, Channel: channel, Code: code, Message: message}
}
