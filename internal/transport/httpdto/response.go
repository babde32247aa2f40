package httpdto

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// CodeUnhealthy answers /health when a dependency check fails.
const CodeUnhealthy = "UNHEALTHY"

// Response is the envelope of every REST reply. Code carries a relay error code and is empty on
// success.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(message, code string) Response[any] {
	return Response[any]{Error: message, Code: code}
}

// OK reports whether both the HTTP status and the envelope signal success.
func (r Response[T]) OK(status int) bool {
	return status < http.StatusMultipleChoices && r.Success
}

// DecodeResponse reads the envelope of a reply. A body that is not an envelope is only an error
// on a success status; failed replies keep their status for error mapping.
func DecodeResponse(status int, raw []byte) (Response[json.RawMessage], error) {
	var env Response[json.RawMessage]
	if len(raw) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil && status < http.StatusMultipleChoices {
		return env, fmt.Errorf("failed to decode response: %w", err)
	}
	return env, nil
}

// UnmarshalData decodes the payload of env into out. Empty and null payloads leave out untouched.
func UnmarshalData(env Response[json.RawMessage], out any) error {
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
