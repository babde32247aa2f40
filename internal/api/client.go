package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/transport/httpdto"
	matjip_errors "matjip-chat/pkg/errors"
)

// Error codes the server puts in the envelope's code field.
const (
	CodeBlockedUser = "BLOCKED_USER"
	CodeForbidden   = "FORBIDDEN"
	CodeNotFound    = "NOT_FOUND"
)

// APIError is a non-success response without a more specific sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// RoomRef addresses a room by UUID or, for legacy rooms, by numeric id.
type RoomRef struct {
	UUID string
	ID   int64
}

func ByUUID(uuid string) RoomRef { return RoomRef{UUID: uuid} }
func ByID(id int64) RoomRef      { return RoomRef{ID: id} }

// Legacy rooms are addressed by numeric id and page newest-first.
func (r RoomRef) Legacy() bool { return r.UUID == "" }

func (r RoomRef) String() string {
	if r.Legacy() {
		return strconv.FormatInt(r.ID, 10)
	}
	return r.UUID
}

// Client is the request/response side of the chat API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for baseURL, e.g. http://localhost:8080/api.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c authenticated with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) GetOrCreateRoom(ctx context.Context, otherUserID int64) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/chat/rooms", nil, httpdto.GetOrCreateRoomRequest{TargetUserID: otherUserID}, &room)
	return room, err
}

func (c *Client) CreateGroupRoom(ctx context.Context, name string, memberIDs []int64) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/chat/rooms/group", nil, httpdto.CreateGroupRoomRequest{Name: name, MemberIDs: memberIDs}, &room)
	return room, err
}

func (c *Client) GetRoomByUUID(ctx context.Context, uuid string) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodGet, "/chat/room/"+url.PathEscape(uuid), nil, nil, &room)
	return room, err
}

func (c *Client) GetRooms(ctx context.Context, page, size int) (domain.Page[domain.Room], error) {
	var p domain.Page[domain.Room]
	err := c.do(ctx, http.MethodGet, "/chat/rooms", pageQuery(page, size), nil, &p)
	return p, err
}

// GetMessages returns one page of messages. Legacy rooms page newest-first; callers reverse.
func (c *Client) GetMessages(ctx context.Context, room RoomRef, page, size int) (domain.Page[domain.Message], error) {
	var p domain.Page[domain.Message]
	err := c.do(ctx, http.MethodGet, messagesPath(room), pageQuery(page, size), nil, &p)
	return p, err
}

func (c *Client) SendMessage(ctx context.Context, room RoomRef, content, clientMessageID string) (domain.Message, error) {
	var m domain.Message
	body := httpdto.SendMessageRequest{Content: content, ClientMessageID: clientMessageID}
	err := c.do(ctx, http.MethodPost, messagesPath(room), nil, body, &m)
	return m, err
}

func (c *Client) DeleteMessage(ctx context.Context, roomUUID string, messageID int64) error {
	path := "/chat/room/" + url.PathEscape(roomUUID) + "/messages/" + strconv.FormatInt(messageID, 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// MarkRead is the fallback for the live read signal.
func (c *Client) MarkRead(ctx context.Context, roomUUID string) error {
	return c.do(ctx, http.MethodPost, "/chat/room/"+url.PathEscape(roomUUID)+"/read", nil, nil, nil)
}

func (c *Client) LeaveRoom(ctx context.Context, roomUUID string) error {
	return c.do(ctx, http.MethodPost, "/chat/room/"+url.PathEscape(roomUUID)+"/leave", nil, nil, nil)
}

func (c *Client) InviteToRoom(ctx context.Context, roomUUID string, userIDs []int64) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPost, "/chat/room/"+url.PathEscape(roomUUID)+"/invite", nil, httpdto.InviteRequest{UserIDs: userIDs}, &room)
	return room, err
}

func (c *Client) RenameRoom(ctx context.Context, roomUUID, name string) (domain.Room, error) {
	var room domain.Room
	err := c.do(ctx, http.MethodPut, "/chat/room/"+url.PathEscape(roomUUID)+"/name", nil, httpdto.RenameRoomRequest{Name: name}, &room)
	return room, err
}

func (c *Client) RoomMembers(ctx context.Context, roomUUID string) ([]domain.Member, error) {
	var members []domain.Member
	err := c.do(ctx, http.MethodGet, "/chat/room/"+url.PathEscape(roomUUID)+"/members", nil, nil, &members)
	return members, err
}

func (c *Client) BlockUser(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, "/users/"+strconv.FormatInt(userID, 10)+"/block", nil, nil, nil)
}

func messagesPath(room RoomRef) string {
	if room.Legacy() {
		return "/chat/rooms/" + strconv.FormatInt(room.ID, 10) + "/messages"
	}
	return "/chat/room/" + url.PathEscape(room.UUID) + "/messages"
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	env, err := httpdto.DecodeResponse(resp.StatusCode, raw)
	if err != nil {
		return err
	}

	if !env.OK(resp.StatusCode) {
		apiErr := mapError(resp.StatusCode, env.Code, env.Error)
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", env.Code))
		return apiErr
	}

	if err := httpdto.UnmarshalData(env, out); err != nil {
		return fmt.Errorf("failed to decode %s %s data: %w", method, path, err)
	}
	return nil
}

func mapError(status int, code, message string) error {
	apiErr := &APIError{Status: status, Code: code, Message: message}
	switch {
	case code == CodeBlockedUser:
		return fmt.Errorf("%w: %s", matjip_errors.ErrBlockedUser, message)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", matjip_errors.ErrRoomAccessDenied, message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", matjip_errors.ErrNotFound, message)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", matjip_errors.ErrUnauthorized, message)
	case status == http.StatusTooManyRequests:
		return errors.Join(matjip_errors.ErrRateLimited, apiErr)
	}
	return apiErr
}
