package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// SingletonLock guarantees at most one agent per workspace across processes
// using a PID lock file. Lock files record "pid:started_unix:workspace_id"
// so a holder can be probed for liveness and age.
type SingletonLock struct {
	dir         string
	workspaceID string
	maxAge      time.Duration
	path        string
	acquired    bool
}

// DefaultLockDir returns the shared lock directory under the user's home.
func DefaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vigil-locks")
	}
	return filepath.Join(home, ".vigil", "locks")
}

// NewSingletonLock creates a lock for one workspace. dir == "" selects the
// default lock directory.
func NewSingletonLock(dir, workspaceID string, maxAge time.Duration) *SingletonLock {
	if dir == "" {
		dir = DefaultLockDir()
	}
	return &SingletonLock{
		dir:         dir,
		workspaceID: workspaceID,
		maxAge:      maxAge,
		path:        filepath.Join(dir, fmt.Sprintf("agent_%s.lock", workspaceID)),
	}
}

// TryAcquire attempts to take the lock. A lock held by a live, recent
// process is respected; dead holders, stale holders past maxAge, and
// corrupt lock files are reclaimed.
func (l *SingletonLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	content, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
		// No holder.
	case err != nil:
		return false, fmt.Errorf("failed to read lock file: %w", err)
	default:
		pid, started, parseErr := parseLockContent(string(content))
		if parseErr != nil {
			slog.Warn("Removing corrupt singleton lock file",
				"path", l.path, "error", parseErr)
		} else if processAlive(pid) {
			age := time.Since(started)
			if age <= l.maxAge {
				slog.Info("Another agent holds the workspace lock",
					"workspace_id", l.workspaceID, "holder_pid", pid, "age", age)
				return false, nil
			}
			slog.Warn("Reclaiming stale singleton lock from long-running holder",
				"holder_pid", pid, "age", age, "max_age", l.maxAge)
		} else {
			slog.Info("Reclaiming singleton lock from dead process", "holder_pid", pid)
		}
	}

	content = []byte(fmt.Sprintf("%d:%d:%s", os.Getpid(), time.Now().Unix(), l.workspaceID))
	if err := os.WriteFile(l.path, content, 0o644); err != nil {
		return false, fmt.Errorf("failed to write lock file: %w", err)
	}
	l.acquired = true
	return true, nil
}

// Release removes the lock file, but only when this process still owns it.
func (l *SingletonLock) Release() {
	if !l.acquired {
		return
	}
	l.acquired = false

	content, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	ourPrefix := strconv.Itoa(os.Getpid()) + ":"
	if !strings.HasPrefix(string(content), ourPrefix) {
		slog.Warn("Singleton lock no longer owned by this process, leaving it",
			"path", l.path)
		return
	}
	if err := os.Remove(l.path); err != nil {
		slog.Warn("Failed to remove singleton lock", "path", l.path, "error", err)
	}
}

// Path returns the lock file location.
func (l *SingletonLock) Path() string { return l.path }

func parseLockContent(content string) (pid int, started time.Time, err error) {
	parts := strings.SplitN(strings.TrimSpace(content), ":", 3)
	if len(parts) < 2 {
		return 0, time.Time{}, fmt.Errorf("malformed lock content %q", content)
	}
	pid, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid pid in lock file: %w", err)
	}
	startedUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid start time in lock file: %w", err)
	}
	return pid, time.Unix(startedUnix, 0), nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user.
	return err == nil || errors.Is(err, syscall.EPERM)
}
