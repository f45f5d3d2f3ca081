// Package events provides the process-wide notification bus shared by the HTTP
// client and the user-facing surfaces.
//
// The client publishes sign-out and network failure events here and records the
// last request that can be safely re-issued; the CLI subscribes to render
// notifications and to offer a retry.
package events

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Kind identifies an event.
type Kind string

const (
	// KindUnauthenticated is published after the client purged cached credentials.
	KindUnauthenticated Kind = "unauthenticated"
	// KindNetworkError is published when a request failed at the transport level.
	KindNetworkError Kind = "network-error"
)

// DefaultNotifyWindow is how long repeated network failures are collapsed into
// a single notification.
const DefaultNotifyWindow = 3 * time.Second

// ErrNotReplayable is returned when there is no request that can be retried.
var ErrNotReplayable = errors.New("events: last request cannot be replayed")

// Event is delivered to subscribers.
type Event struct {
	Kind     Kind
	CanRetry bool
	At       time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Replay describes the last request issued by the client.
type Replay struct {
	Method   string
	Path     string
	Body     []byte
	Header   http.Header
	CanRetry bool
}

// Bus fans events out to subscribers and keeps the last replayable request.
type Bus struct {
	mu           sync.Mutex
	handlers     map[int]Handler
	nextID       int
	last         *Replay
	notifiedAt   time.Time
	notifyWindow time.Duration
	now          func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithNotifyWindow sets the network error dedupe window.
func WithNotifyWindow(d time.Duration) Option {
	return func(b *Bus) {
		b.notifyWindow = d
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers:     make(map[int]Handler),
		notifyWindow: DefaultNotifyWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	slog.Debug("Bus Publish", "kind", e.Kind, "can_retry", e.CanRetry, "subscribers", len(handlers))
	for _, h := range handlers {
		h(e)
	}
}

// NotifyNetworkError publishes a network error event unless one was already
// published within the notify window. It reports whether an event was sent.
func (b *Bus) NotifyNetworkError() bool {
	b.mu.Lock()
	now := b.now()
	if !b.notifiedAt.IsZero() && now.Sub(b.notifiedAt) < b.notifyWindow {
		b.mu.Unlock()
		slog.Debug("Bus NotifyNetworkError suppressed", "since", now.Sub(b.notifiedAt))
		return false
	}
	b.notifiedAt = now
	canRetry := b.last != nil && b.last.CanRetry
	b.mu.Unlock()

	b.Publish(Event{Kind: KindNetworkError, CanRetry: canRetry, At: now})
	return true
}

// SetLastRequest records the most recent request. A request that cannot be
// retried still replaces the previous one.
func (b *Bus) SetLastRequest(r Replay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !r.CanRetry {
		r.Body = nil
	}
	b.last = &r
}

// LastRequest returns the last replayable request or ErrNotReplayable.
func (b *Bus) LastRequest() (Replay, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil || !b.last.CanRetry {
		return Replay{}, ErrNotReplayable
	}
	r := *b.last
	r.Header = r.Header.Clone()
	if r.Body != nil {
		r.Body = append([]byte(nil), r.Body...)
	}
	return r, nil
}
