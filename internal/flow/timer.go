package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules the delayed commit of a server reply.
type Timer interface {
	// ScheduleAfter runs fn once after delay and returns a handle for Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel drops a pending function. Unknown ids are ignored.
	Cancel(id string) error
}

type timerEntry struct {
	timer     *time.Timer
	expiresAt time.Time
}

// SimpleTimer implements Timer on top of time.AfterFunc.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("flow: nil timer function")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := fmt.Sprintf("reply_%d", t.nextID)

	timer := time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !live {
			return
		}
		slog.Debug("SimpleTimer firing", "id", id)
		fn()
	})
	t.timers[id] = &timerEntry{timer: timer, expiresAt: time.Now().Add(delay)}

	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	}
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	if len(t.timers) > 0 {
		slog.Debug("SimpleTimer stopped pending timers", "count", len(t.timers))
	}
	t.timers = make(map[string]*timerEntry)
}

// Pending returns the number of functions still waiting to fire.
func (t *SimpleTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Remaining returns how long until id fires, or false when it is not pending.
func (t *SimpleTimer) Remaining(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[id]
	if !ok {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
