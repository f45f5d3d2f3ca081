package flow

import (
	"testing"
	"time"
)

func TestSimpleTimerFires(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{})
	id, err := timer.ScheduleAfter(10*time.Millisecond, func() { close(fired) })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if _, ok := timer.Remaining(id); !ok {
		t.Error("expected timer to be pending")
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan struct{}, 1)
	id, err := timer.ScheduleAfter(50*time.Millisecond, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if timer.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", timer.Pending())
	}

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}

	if err := timer.Cancel("unknown"); err != nil {
		t.Errorf("cancel of unknown id should be a no-op, got %v", err)
	}
}

func TestSimpleTimerRejectsNilFunc(t *testing.T) {
	timer := NewSimpleTimer()
	if _, err := timer.ScheduleAfter(time.Millisecond, nil); err == nil {
		t.Error("expected error for nil function")
	}
}

func TestSimpleTimerStop(t *testing.T) {
	timer := NewSimpleTimer()
	for i := 0; i < 3; i++ {
		if _, err := timer.ScheduleAfter(time.Hour, func() {}); err != nil {
			t.Fatalf("ScheduleAfter failed: %v", err)
		}
	}
	if timer.Pending() != 3 {
		t.Fatalf("expected 3 pending timers, got %d", timer.Pending())
	}
	timer.Stop()
	if timer.Pending() != 0 {
		t.Errorf("expected 0 pending timers after Stop, got %d", timer.Pending())
	}
}
