package matjip_errors

import "errors"

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrAlreadyExists      = errors.New("already exists")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Chat errors
var (
	// ErrBlockedUser is returned when room access is denied because one side blocked the other.
	ErrBlockedUser      = errors.New("blocked user")
	ErrRoomAccessDenied = errors.New("room access denied")
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrRoomClosed       = errors.New("room view closed")
)

// Live connection errors
var (
	ErrNotConnected   = errors.New("live connection not established")
	ErrSessionInvalid = errors.New("session is no longer valid")
	ErrMalformedFrame = errors.New("malformed frame")
)

// IsAuthorization reports whether err denies access to a room outright.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrBlockedUser) || errors.Is(err, ErrRoomAccessDenied)
}
