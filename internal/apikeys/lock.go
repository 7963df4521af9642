package apikeys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout is returned when the cursor lock cannot be acquired within
// the configured deadline. Callers should treat it as retryable and fall
// back to the first credential.
var ErrLockTimeout = errors.New("apikeys: lock acquisition timed out")

const (
	lockPollInterval = 50 * time.Millisecond
	lockOwnerFile    = "owner.json"
)

// cursorLock is a cross-process mutual-exclusion lock built on the atomicity
// of mkdir. The lock directory lives next to the cursor file so every
// process touching the same credential pool contends on the same path.
type cursorLock struct {
	dir  string
	wait time.Duration
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
}

func newCursorLock(indexFile string, wait time.Duration) *cursorLock {
	return &cursorLock{dir: indexFile + ".lock", wait: wait}
}

// acquire blocks until the lock directory is created or the deadline passes.
func (l *cursorLock) acquire() error {
	deadline := time.Now().Add(l.wait)
	for {
		err := os.Mkdir(l.dir, 0o755)
		if err == nil {
			owner := lockOwner{PID: os.Getpid(), CreatedAt: time.Now().UTC().Format(time.RFC3339)}
			if data, merr := json.Marshal(owner); merr == nil {
				_ = os.WriteFile(filepath.Join(l.dir, lockOwnerFile), data, 0o644)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire cursor lock %s: %w", l.dir, err)
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *cursorLock) release() {
	_ = os.Remove(filepath.Join(l.dir, lockOwnerFile))
	_ = os.Remove(l.dir)
}
