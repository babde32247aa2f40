package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"matjip-chat/config"
	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	matjip_errors "matjip-chat/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiryMin: 5})

	token, expiresIn, err := auth.IssueToken(domain.User{ID: 42, Name: "Mina"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), expiresIn)

	claims, err := auth.ParseAccessToken(token)
	require.NoError(t, err)
	u, err := claims.User()
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: 42, Name: "Mina"}, u)
}

func TestParseAccessTokenRejects(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiryMin: 5})
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiryMin: 5})
	foreign, _, err := other.IssueToken(domain.User{ID: 1})
	require.NoError(t, err)

	expired := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiryMin: 1})
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.IssueToken(domain.User{ID: 1})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"wrong secret":  foreign,
		"expired token": stale,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.ParseAccessToken(token)
			assert.ErrorIs(t, err, matjip_errors.ErrUnauthorized)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{matjip_errors.ErrBlockedUser, 403, events.CodeBlockedUser},
		{matjip_errors.ErrRoomAccessDenied, 403, events.CodeForbidden},
		{matjip_errors.ErrEmptyMessage, 400, events.CodeInvalidRequest},
		{matjip_errors.ErrNotFound, 404, events.CodeNotFound},
		{matjip_errors.ErrUnauthorized, 401, events.CodeUnauthorized},
		{matjip_errors.ErrRateLimited, 429, events.CodeRateLimited},
		{errors.New("boom"), 500, events.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
		assert.Equal(t, tt.code, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestUserContext(t *testing.T) {
	ctx := WithUserContext(context.Background(), domain.User{ID: 9, Name: "Jun"})
	id, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(9), id)

	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)
}
