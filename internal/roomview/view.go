package roomview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"matjip-chat/internal/api"
	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/live"
	matjip_errors "matjip-chat/pkg/errors"
)

const (
	DefaultPageSize     = 50
	DefaultPollInterval = 3 * time.Second

	// Bound on a fallback request started from the dispatch loop.
	backgroundTimeout = 10 * time.Second
)

// MessageAPI is the request/response side the view falls back to.
type MessageAPI interface {
	GetMessages(ctx context.Context, room api.RoomRef, page, size int) (domain.Page[domain.Message], error)
	SendMessage(ctx context.Context, room api.RoomRef, content, clientMessageID string) (domain.Message, error)
	MarkRead(ctx context.Context, roomUUID string) error
}

// Conn is the live connection as seen by a view.
type Conn interface {
	State() live.State
	Publish(channel string, payload any) error
	OnStateChange(fn func(live.State)) func()
}

// Subscriber registers channel handlers.
type Subscriber interface {
	Subscribe(key string, handler live.Handler) *live.Subscription
}

type Options struct {
	UserID       int64
	PageSize     int
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// View owns the message list of the one open room. Inbound events, user sends and request
// completions all mutate it through View methods.
type View struct {
	room   domain.Room
	ref    api.RoomRef
	userID int64
	api    MessageAPI
	conn   Conn
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	timeline  *Timeline
	draft     string
	reply     *domain.Message
	phase     SendPhase
	closed    bool
	readSent  bool
	nextPage  int
	hasOlder  bool
	subs      []*live.Subscription
	stopState func()
	listeners []func()
}

// Open loads the first page of room and starts following it. An authorization failure returns
// the error and no view.
func Open(ctx context.Context, room domain.Room, client MessageAPI, conn Conn, subs Subscriber, opts Options) (*View, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ref := api.ByUUID(room.UUID)
	if room.UUID == "" {
		ref = api.ByID(room.ID)
	}

	vctx, cancel := context.WithCancel(context.Background())
	v := &View{
		room:     room,
		ref:      ref,
		userID:   opts.UserID,
		api:      client,
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("room_uuid", room.UUID)),
		ctx:      vctx,
		cancel:   cancel,
		timeline: NewTimeline(),
	}

	if err := v.loadPage(ctx, 0); err != nil {
		cancel()
		return nil, err
	}

	if room.UUID != "" {
		v.subs = append(v.subs,
			subs.Subscribe(events.RoomChannel(room.UUID), v.handleMessageEvent),
			subs.Subscribe(events.RoomReadChannel(room.UUID), v.handleReadEvent),
		)
	}
	v.stopState = conn.OnStateChange(v.handleState)

	if conn.State() == live.StateConnected {
		v.handleState(live.StateConnected)
	} else {
		v.markReadFallback()
	}

	v.wg.Add(1)
	go v.pollLoop()
	return v, nil
}

func (v *View) Room() domain.Room {
	return v.room
}

// Entries returns the rendered list: confirmed messages by (createdAt, id) then pending sends.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeline.Entries()
}

func (v *View) Runs() []Run {
	return GroupRuns(v.Entries())
}

func (v *View) Days(loc *time.Location) []Day {
	return GroupDays(v.Entries(), loc)
}

// OnChange registers fn to run after every change of the list or draft.
func (v *View) OnChange(fn func()) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

func (v *View) changed() {
	v.mu.Lock()
	listeners := append([]func(){}, v.listeners...)
	v.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Close unsubscribes the room channels before returning, so no further events reach this view.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	subs := v.subs
	v.subs = nil
	stop := v.stopState
	v.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	if stop != nil {
		stop()
	}
	v.cancel()
	v.wg.Wait()
}

func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// LoadOlder merges the next older page. It reports false when there is nothing older.
func (v *View) LoadOlder(ctx context.Context) (bool, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false, matjip_errors.ErrRoomClosed
	}
	page, more := v.nextPage, v.hasOlder
	v.mu.Unlock()
	if !more {
		return false, nil
	}
	if err := v.loadPage(ctx, page); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh re-reads the newest page and merges it.
func (v *View) Refresh(ctx context.Context) error {
	return v.loadPage(ctx, 0)
}

func (v *View) loadPage(ctx context.Context, page int) error {
	p, err := v.api.GetMessages(ctx, v.ref, page, v.opts.PageSize)
	if err != nil {
		return fmt.Errorf("failed to load messages of %s: %w", v.ref, err)
	}
	msgs := p.Content
	if v.ref.Legacy() {
		msgs = reversed(msgs)
	}
	for i := range msgs {
		msgs[i].IsMine = msgs[i].SenderID == v.userID
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return matjip_errors.ErrRoomClosed
	}
	added, advanced := v.timeline.Reconcile(msgs...)
	if page >= v.nextPage {
		v.nextPage = page + 1
		v.hasOlder = !p.Last
	}
	v.mu.Unlock()

	if added > 0 || advanced > 0 {
		v.changed()
	}
	return nil
}

func reversed(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}

// handleMessageEvent runs on the connection's dispatch loop.
func (v *View) handleMessageEvent(payload json.RawMessage) {
	var evt domain.MessageEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		v.logger.Warn("dropping malformed message event", zap.Error(err))
		return
	}
	msg := evt.ToMessage(v.userID)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	mine := evt.SenderID == v.userID
	if mine && evt.MessageType != domain.MessageTypeSystem {
		// Our own echo. Only a matching pending send turns it into a confirmed entry.
		promoted := evt.ClientMessageID != "" && v.timeline.Promote(evt.ClientMessageID, msg)
		v.mu.Unlock()
		if promoted {
			v.changed()
		}
		return
	}
	added := v.timeline.Merge(msg) > 0
	v.mu.Unlock()

	if added {
		v.changed()
		if !mine {
			v.signalRead()
		}
	}
}

func (v *View) handleReadEvent(payload json.RawMessage) {
	var n domain.ReadNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		v.logger.Warn("dropping malformed read notification", zap.Error(err))
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	changed := FoldReceipt(v.timeline, v.room.Type, v.userID, n)
	v.mu.Unlock()

	if changed {
		v.changed()
	}
}

// handleState sends the read signal on the first CONNECTED of this view's lifetime.
func (v *View) handleState(s live.State) {
	if s != live.StateConnected {
		return
	}
	v.mu.Lock()
	if v.closed || v.readSent {
		v.mu.Unlock()
		return
	}
	v.readSent = true
	v.mu.Unlock()
	v.signalRead()
}

// signalRead tells the server this user has read the room up to now.
func (v *View) signalRead() {
	if v.room.UUID == "" {
		return
	}
	if v.conn.State() == live.StateConnected {
		err := v.conn.Publish(events.RoomReadChannel(v.room.UUID), nil)
		if err == nil {
			return
		}
		v.logger.Debug("live read signal failed, using fallback", zap.Error(err))
	}
	v.markReadFallback()
}

func (v *View) markReadFallback() {
	if v.room.UUID == "" {
		return
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.wg.Add(1)
	v.mu.Unlock()
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(v.ctx, backgroundTimeout)
		defer cancel()
		if err := v.api.MarkRead(ctx, v.room.UUID); err != nil && v.ctx.Err() == nil {
			v.logger.Warn("fallback read signal failed", zap.Error(err))
		}
	}()
}

// pollLoop keeps the list converging while the live channel is down.
func (v *View) pollLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if v.conn.State() == live.StateConnected {
				continue
			}
			ctx, cancel := context.WithTimeout(v.ctx, backgroundTimeout)
			err := v.loadPage(ctx, 0)
			cancel()
			if err != nil && v.ctx.Err() == nil {
				v.logger.Debug("poll failed", zap.Error(err))
			}
		}
	}
}

// Remove drops a confirmed message from the list.
func (v *View) Remove(id int64) {
	v.mu.Lock()
	removed := !v.closed && v.timeline.Remove(id)
	v.mu.Unlock()
	if removed {
		v.changed()
	}
}
