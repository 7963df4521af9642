package apikeys

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultLockWait bounds how long Current and Rotate wait for the
// cross-process cursor lock.
const DefaultLockWait = 5 * time.Second

// Rotator hands out API keys from an ordered pool. The rotation cursor is
// persisted to a file shared by all processes using the same pool, so
// concurrent processes converge on the same key after a quota rotation.
type Rotator struct {
	keys      []string
	indexFile string
	lock      *cursorLock
}

// NewRotator creates a rotator over the given ordered key pool. The cursor
// file is created lazily on the first rotation.
func NewRotator(keys []string, indexFile string) (*Rotator, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("apikeys: key pool is empty")
	}
	return &Rotator{
		keys:      keys,
		indexFile: indexFile,
		lock:      newCursorLock(indexFile, DefaultLockWait),
	}, nil
}

// Len returns the size of the key pool.
func (r *Rotator) Len() int {
	return len(r.keys)
}

// First returns the key at index 0, the fallback for lock timeouts.
func (r *Rotator) First() string {
	return r.keys[0]
}

// Current returns the key at the persisted cursor without advancing it.
func (r *Rotator) Current() (string, error) {
	if err := r.lock.acquire(); err != nil {
		return "", err
	}
	defer r.lock.release()

	index := r.readIndex()
	return r.keys[index%len(r.keys)], nil
}

// Rotate advances the cursor by one position modulo the pool size, persists
// the new value, and returns the key at the new position. Concurrent calls
// serialize on the cursor lock; each quota-exhaustion event advances the
// cursor by exactly one net position.
func (r *Rotator) Rotate() (string, error) {
	if err := r.lock.acquire(); err != nil {
		return "", err
	}
	defer r.lock.release()

	index := r.readIndex()
	next := (index + 1) % len(r.keys)
	if err := r.writeIndex(next); err != nil {
		return "", err
	}
	log.Info().Int("from", index).Int("to", next).Msg("Rotated API key")
	return r.keys[next], nil
}

// readIndex reads the persisted cursor, treating a missing or corrupt file
// as index 0.
func (r *Rotator) readIndex() int {
	data, err := os.ReadFile(r.indexFile)
	if err != nil {
		return 0
	}
	index, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || index < 0 {
		return 0
	}
	return index % len(r.keys)
}

func (r *Rotator) writeIndex(index int) error {
	if err := os.WriteFile(r.indexFile, []byte(strconv.Itoa(index)), 0o644); err != nil {
		return fmt.Errorf("apikeys: persist cursor: %w", err)
	}
	return nil
}
