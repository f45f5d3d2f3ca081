// Package lockfile keeps two triageflow sessions from sharing one state
// directory. The flock is released by the kernel when the process exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "triageflow.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
	held bool
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Command string
	Since   time.Time
	Running bool
}

// AcquireLock takes the state directory lock for command (for example
// "flow" or "reset"). It fails with a *LockError when another session holds it.
func AcquireLock(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadHolder(stateDir)
		slog.Warn("Lockfile acquire refused", "lock_path", lockPath, "holder_pid", holder.PID, "holder_command", holder.Command)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	// Truncate only once the lock is ours so a refused caller never wipes the holder's record.
	if err := file.Truncate(0); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to reset lock file %s: %w", lockPath, err)
	}
	record := formatHolder(os.Getpid(), command, time.Now())
	if _, err := file.WriteAt([]byte(record), 0); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile sync failed", "lock_path", lockPath, "error", err)
	}

	slog.Debug("Lockfile acquired", "lock_path", lockPath, "pid", os.Getpid(), "command", command)
	return &Lock{file: file, path: lockPath, held: true}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || !l.held || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile unlock failed", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile close failed", "lock_path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile remove failed", "lock_path", l.path, "error", err)
	}

	l.held = false
	l.file = nil
	slog.Debug("Lockfile released", "lock_path", l.path)
	return nil
}

// LockError is returned when another session holds the state directory.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	b.WriteString("another triageflow session is using the same state directory\n\n")
	fmt.Fprintf(&b, "Lock file: %s\n", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !e.Holder.Running {
			state = "not running, stale lock"
		}
		fmt.Fprintf(&b, "Held by: PID %d (%s)", e.Holder.PID, state)
		if e.Holder.Command != "" {
			fmt.Fprintf(&b, " command=%s", e.Holder.Command)
		}
		if !e.Holder.Since.IsZero() {
			fmt.Fprintf(&b, " since %s", e.Holder.Since.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nIf no other session is open, remove the stale lock with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ReadHolder parses the lock file in stateDir. A missing or unreadable file
// returns a zero Holder and the read error.
func ReadHolder(stateDir string) (Holder, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, LockFileName))
	if err != nil {
		return Holder{}, err
	}
	h := parseHolder(string(data))
	if h.PID > 0 {
		h.Running = isProcessRunning(h.PID)
	}
	return h, nil
}

func formatHolder(pid int, command string, since time.Time) string {
	return fmt.Sprintf("pid=%d\ncommand=%s\nsince=%d\n", pid, command, since.Unix())
}

func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "command":
			h.Command = value
		case "since":
			if sec, err := strconv.ParseInt(value, 10, 64); err == nil && sec > 0 {
				h.Since = time.Unix(sec, 0)
			}
		}
	}
	return h
}

// isProcessRunning sends signal 0, which only checks that the pid exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
