package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"matjip-chat/config"
	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	matjip_errors "matjip-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService verifies the access tokens issued by the identity provider. IssueToken exists for
// development and tests; production tokens come from the main app.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: time.Duration(cfg.JWTExpiryMin) * time.Minute,
		now:       time.Now,
	}
}

type AccessClaims struct {
	UserID string `json:"sub"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// User returns the identity the token vouches for.
func (c AccessClaims) User() (domain.User, error) {
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil || id <= 0 {
		return domain.User{}, matjip_errors.ErrUnauthorized
	}
	return domain.User{ID: id, Name: c.Name, Avatar: c.Avatar}, nil
}

func (s *AuthService) IssueToken(u domain.User) (string, int64, error) {
	if u.ID <= 0 {
		return "", 0, matjip_errors.ErrInvalidInput
	}
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	claims := AccessClaims{
		UserID: strconv.FormatInt(u.ID, 10),
		Name:   u.Name,
		Avatar: u.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, matjip_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, matjip_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return AccessClaims{}, matjip_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, matjip_errors.ErrUnauthorized
	}
	if _, err := claims.User(); err != nil {
		return AccessClaims{}, err
	}

	return *claims, nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, matjip_errors.ErrInvalidInput), errors.Is(err, matjip_errors.ErrEmptyMessage):
		return 400
	case errors.Is(err, matjip_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, matjip_errors.ErrForbidden), matjip_errors.IsAuthorization(err):
		return 403
	case errors.Is(err, matjip_errors.ErrNotFound):
		return 404
	case errors.Is(err, matjip_errors.ErrAlreadyExists), errors.Is(err, matjip_errors.ErrConflict):
		return 409
	case errors.Is(err, matjip_errors.ErrRateLimited):
		return 429
	case errors.Is(err, matjip_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

// ErrorCode is the machine readable code sent with REST errors and error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, matjip_errors.ErrBlockedUser):
		return events.CodeBlockedUser
	case errors.Is(err, matjip_errors.ErrInvalidInput), errors.Is(err, matjip_errors.ErrEmptyMessage):
		return events.CodeInvalidRequest
	case errors.Is(err, matjip_errors.ErrUnauthorized):
		return events.CodeUnauthorized
	case errors.Is(err, matjip_errors.ErrForbidden), errors.Is(err, matjip_errors.ErrRoomAccessDenied):
		return events.CodeForbidden
	case errors.Is(err, matjip_errors.ErrNotFound):
		return events.CodeNotFound
	case errors.Is(err, matjip_errors.ErrAlreadyExists), errors.Is(err, matjip_errors.ErrConflict):
		return events.CodeConflict
	case errors.Is(err, matjip_errors.ErrRateLimited):
		return events.CodeRateLimited
	default:
		return events.CodeInternal
	}
}

type ctxKey string

var userKey ctxKey = "user"

func WithUserContext(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userKey).(domain.User)
	return u, ok
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	u, ok := UserFromContext(ctx)
	return u.ID, ok
}
