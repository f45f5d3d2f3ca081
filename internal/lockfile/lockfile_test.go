package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "flow")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("Path() = %q", lock.Path())
	}

	holder, err := ReadHolder(dir)
	if err != nil {
		t.Fatalf("ReadHolder() error = %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", holder.PID, os.Getpid())
	}
	if holder.Command != "flow" {
		t.Errorf("holder command = %q, want flow", holder.Command)
	}
	if !holder.Running {
		t.Error("own process should be reported running")
	}
	if holder.Since.IsZero() || time.Since(holder.Since) > time.Minute {
		t.Errorf("holder since = %v", holder.Since)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, "flow")
	if err != nil {
		t.Fatalf("first AcquireLock() error = %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir, "reset")
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock() should fail while the first is held")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("error type = %T, want *LockError", err)
	}
	if lockErr.Holder.Command != "flow" {
		t.Errorf("conflict holder command = %q, want flow", lockErr.Holder.Command)
	}
	msg := err.Error()
	if !strings.Contains(msg, "another triageflow session") {
		t.Errorf("error should name the conflicting session: %s", msg)
	}
	if !strings.Contains(msg, dir) {
		t.Errorf("error should contain the lock path: %s", msg)
	}

	// the refused attempt must not clobber the holder record
	holder, err := ReadHolder(dir)
	if err != nil || holder.Command != "flow" {
		t.Errorf("holder after refusal = %+v, %v", holder, err)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "flow")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	again, err := AcquireLock(dir, "flow")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir, "proxy")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory should exist: %v", err)
	}
}

func TestReadHolderMissing(t *testing.T) {
	holder, err := ReadHolder(t.TempDir())
	if err == nil {
		t.Error("ReadHolder() on an empty dir should fail")
	}
	if holder.PID != 0 {
		t.Errorf("holder pid = %d, want 0", holder.PID)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		command string
		since   int64
	}{
		{"full record", "pid=12345\ncommand=flow\nsince=1700000000\n", 12345, "flow", 1700000000},
		{"pid only", "pid=67890\n", 67890, "", 0},
		{"bad pid", "pid=abc\ncommand=reset\n", 0, "reset", 0},
		{"empty", "", 0, "", 0},
		{"no separator", "pid12345", 0, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(tt.content)
			if h.PID != tt.pid || h.Command != tt.command {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
			if tt.since == 0 && !h.Since.IsZero() {
				t.Errorf("since = %v, want zero", h.Since)
			}
			if tt.since != 0 && h.Since.Unix() != tt.since {
				t.Errorf("since = %d, want %d", h.Since.Unix(), tt.since)
			}
		})
	}
}

func TestLockErrorStaleHolder(t *testing.T) {
	err := &LockError{
		LockPath: "/tmp/state/triageflow.lock",
		Holder:   Holder{PID: 999999, Command: "flow"},
	}
	msg := err.Error()
	if !strings.Contains(msg, "stale lock") {
		t.Errorf("message should flag a stale holder: %s", msg)
	}
	if !strings.Contains(msg, "rm /tmp/state/triageflow.lock") {
		t.Errorf("message should show how to remove the lock: %s", msg)
	}
}
