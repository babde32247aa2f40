package live

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"matjip-chat/internal/events"
)

// Handler receives the payload of an event delivered on a subscribed channel.
type Handler func(payload json.RawMessage)

// Transport is the part of the live connection the registry drives.
// Both calls may fail with ErrNotConnected; replay on the next connect covers that.
type Transport interface {
	SendSubscribe(channel string) error
	SendUnsubscribe(channel string) error
}

// Registry is the single source of truth for which channels should be subscribed.
// Multiple handlers on one key share a single transport subscription.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*registryEntry
	nextID    uint64
	transport Transport
	logger    *zap.Logger
}

type registryEntry struct {
	handlers map[uint64]Handler
}

// Subscription is one handler's claim on a channel key.
type Subscription struct {
	registry *Registry
	key      string
	id       uint64
	once     sync.Once
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  logger,
	}
}

func (r *Registry) setTransport(t Transport) {
	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()
}

// Subscribe registers handler for key. Only the first handler of a key subscribes on the transport.
func (r *Registry) Subscribe(key string, handler Handler) *Subscription {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	e, ok := r.entries[key]
	if !ok {
		e = &registryEntry{handlers: make(map[uint64]Handler)}
		r.entries[key] = e
	}
	e.handlers[id] = handler
	t := r.transport
	r.mu.Unlock()

	if !ok && t != nil {
		if err := t.SendSubscribe(key); err != nil {
			r.logger.Debug("subscribe deferred until connected", zap.String("channel", key), zap.Error(err))
		}
	}
	return &Subscription{registry: r, key: key, id: id}
}

// Close removes this handler. The transport subscription is torn down with the last handler.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.registry.remove(s.key, s.id)
	})
}

func (s *Subscription) Key() string {
	return s.key
}

func (r *Registry) remove(key string, id uint64) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.handlers, id)
	last := len(e.handlers) == 0
	if last {
		delete(r.entries, key)
	}
	t := r.transport
	r.mu.Unlock()

	if last {
		r.sendUnsubscribe(t, key)
	}
}

// Unsubscribe removes every handler of key. Unknown keys are a no-op.
func (r *Registry) Unsubscribe(key string) {
	r.mu.Lock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	t := r.transport
	r.mu.Unlock()

	if ok {
		r.sendUnsubscribe(t, key)
	}
}

func (r *Registry) sendUnsubscribe(t Transport, key string) {
	if t == nil {
		return
	}
	if err := t.SendUnsubscribe(key); err != nil {
		r.logger.Debug("unsubscribe not sent", zap.String("channel", key), zap.Error(err))
	}
}

// Keys returns the subscribed channel keys in stable order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Has reports whether key currently has at least one handler.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Clear drops every entry without touching the transport.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()
}

// Dispatch runs the handlers of the frame's channel. Events on keys no longer registered are
// dropped, so a closed view never sees further events.
func (r *Registry) Dispatch(f events.Frame) {
	r.mu.Lock()
	e, ok := r.entries[f.Channel]
	var handlers []Handler
	if ok {
		ids := make([]uint64, 0, len(e.handlers))
		for id := range e.handlers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		handlers = make([]Handler, 0, len(ids))
		for _, id := range ids {
			handlers = append(handlers, e.handlers[id])
		}
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping event for unsubscribed channel", zap.String("channel", f.Channel))
		return
	}
	for _, h := range handlers {
		h(f.Payload)
	}
}
