package watchdog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStalled marks a run aborted because no unit of work completed within
// the inactivity threshold.
var ErrStalled = errors.New("run stalled: no activity within threshold")

// Watchdog aborts a run that stops making progress. Workers call Touch on
// every completed unit of work; Watch cancels its context once the gap since
// the last touch exceeds the threshold.
type Watchdog struct {
	threshold time.Duration
	interval  time.Duration
	last      atomic.Int64
}

// New creates a watchdog. A zero check interval defaults to threshold/10.
func New(threshold, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = threshold / 10
	}
	w := &Watchdog{threshold: threshold, interval: interval}
	w.Touch()
	return w
}

// Touch records activity now. Safe for concurrent use.
func (w *Watchdog) Touch() {
	w.touchAt(time.Now())
}

func (w *Watchdog) touchAt(t time.Time) {
	w.last.Store(t.UnixNano())
}

// Stalled reports whether the inactivity threshold has been exceeded.
func (w *Watchdog) Stalled() bool {
	return w.idle() > w.threshold
}

func (w *Watchdog) idle() time.Duration {
	return time.Since(time.Unix(0, w.last.Load()))
}

// Watch returns a context cancelled with ErrStalled as cause when the run
// stalls, or following the parent's cancellation. The caller distinguishes
// the two via context.Cause.
func (w *Watchdog) Watch(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancelCause(ctx)

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if w.Stalled() {
					log.Error().Dur("idle", w.idle()).Dur("threshold", w.threshold).
						Msg("No activity within threshold, aborting run")
					cancel(ErrStalled)
					return
				}
			}
		}
	}()

	return runCtx, func() { cancel(nil) }
}
