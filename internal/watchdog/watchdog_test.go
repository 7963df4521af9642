package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStalled_ThresholdBoundary(t *testing.T) {
	w := New(7*time.Minute, time.Second)

	w.touchAt(time.Now().Add(-6 * time.Minute))
	if w.Stalled() {
		t.Error("Stalled() = true at 6m idle, want false under 7m threshold")
	}

	w.touchAt(time.Now().Add(-8 * time.Minute))
	if !w.Stalled() {
		t.Error("Stalled() = false at 8m idle, want true over 7m threshold")
	}
}

func TestTouch_ResetsIdleClock(t *testing.T) {
	w := New(7*time.Minute, time.Second)
	w.touchAt(time.Now().Add(-8 * time.Minute))
	if !w.Stalled() {
		t.Fatal("expected stalled before touch")
	}

	w.Touch()
	if w.Stalled() {
		t.Error("Stalled() = true right after Touch, want false")
	}
}

func TestWatch_CancelsWithStallCause(t *testing.T) {
	w := New(30*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := w.Watch(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		if !errors.Is(context.Cause(ctx), ErrStalled) {
			t.Errorf("cause = %v, want ErrStalled", context.Cause(ctx))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestWatch_TouchKeepsRunAlive(t *testing.T) {
	w := New(80*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := w.Watch(context.Background())
	defer cancel()

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("run aborted despite steady activity: %v", context.Cause(ctx))
		case <-deadline:
			return
		case <-time.After(20 * time.Millisecond):
			w.Touch()
		}
	}
}

func TestWatch_ParentCancellationIsNotAStall(t *testing.T) {
	w := New(time.Hour, 10*time.Millisecond)
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := w.Watch(parent)
	defer cancel()

	cancelParent()
	<-ctx.Done()
	if errors.Is(context.Cause(ctx), ErrStalled) {
		t.Error("cause = ErrStalled, want parent cancellation")
	}
}
