package events

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestBusPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var got []Kind
	unsubscribe := bus.Subscribe(func(e Event) { got = append(got, e.Kind) })

	bus.Publish(Event{Kind: KindUnauthenticated})
	unsubscribe()
	bus.Publish(Event{Kind: KindUnauthenticated})

	if len(got) != 1 || got[0] != KindUnauthenticated {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestNotifyNetworkErrorDedupes(t *testing.T) {
	now := time.Unix(1000, 0)
	bus := NewBus(WithClock(func() time.Time { return now }))

	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })

	bus.SetLastRequest(Replay{Method: http.MethodPost, Path: "/evaluations/start", Body: []byte(`{}`), CanRetry: true})

	if !bus.NotifyNetworkError() {
		t.Fatal("first notification should be sent")
	}
	now = now.Add(2 * time.Second)
	if bus.NotifyNetworkError() {
		t.Fatal("notification inside the window should be suppressed")
	}
	now = now.Add(2 * time.Second)
	if !bus.NotifyNetworkError() {
		t.Fatal("notification after the window should be sent")
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].CanRetry {
		t.Error("expected retry to be offered for a JSON request")
	}
}

func TestLastRequestNotReplayable(t *testing.T) {
	bus := NewBus()
	if _, err := bus.LastRequest(); !errors.Is(err, ErrNotReplayable) {
		t.Fatalf("expected ErrNotReplayable, got %v", err)
	}

	bus.SetLastRequest(Replay{Method: http.MethodGet, Path: "/evaluations/current", CanRetry: true})
	bus.SetLastRequest(Replay{Method: http.MethodPost, Path: "/uploads", Body: []byte("multipart"), CanRetry: false})

	if _, err := bus.LastRequest(); !errors.Is(err, ErrNotReplayable) {
		t.Fatalf("multipart request should not be replayable, got %v", err)
	}
}

func TestLastRequestReturnsCopy(t *testing.T) {
	bus := NewBus()
	bus.SetLastRequest(Replay{Method: http.MethodPost, Path: "/x", Body: []byte("abc"), Header: http.Header{"A": {"1"}}, CanRetry: true})

	r, err := bus.LastRequest()
	if err != nil {
		t.Fatalf("LastRequest: %v", err)
	}
	r.Body[0] = 'z'
	r.Header.Set("A", "2")

	again, _ := bus.LastRequest()
	if string(again.Body) != "abc" || again.Header.Get("A") != "1" {
		t.Errorf("stored request was mutated: %+v", again)
	}
}
