package callback

import (
	"testing"
	"time"

	"kingo/internal/consumerthread"
	apperr "kingo/internal/errors"
)

func newTestRegistry(strict bool) (*Registry, *consumerthread.Thread) {
	th := consumerthread.New()
	th.Start()
	return NewRegistry(th, strict, nil), th
}

// P10: after cleanup, scheduling is a no-op and raises nothing.
func TestCleanupCallbacksIsTerminal(t *testing.T) {
	r, th := newTestRegistry(false)
	defer th.Stop()

	ran := make(chan struct{}, 1)
	if _, err := r.ScheduleAfter(50*time.Millisecond, func() { ran <- struct{}{} }); err != nil {
		t.Fatalf("schedule before cleanup: %v", err)
	}

	r.CleanupCallbacks()

	select {
	case <-ran:
		t.Fatal("scheduled callback ran after cleanup")
	case <-time.After(150 * time.Millisecond):
	}

	h, err := r.ScheduleAfter(time.Millisecond, func() { ran <- struct{}{} })
	if err != nil {
		t.Fatalf("post-cleanup schedule returned error: %v", err)
	}
	if h != 0 {
		t.Fatalf("post-cleanup schedule returned non-zero handle: %v", h)
	}

	select {
	case <-ran:
		t.Fatal("post-cleanup scheduled callback ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduleAfterRunsOnConsumerThread(t *testing.T) {
	r, th := newTestRegistry(false)
	defer th.Stop()

	done := make(chan bool, 1)
	if _, err := r.ScheduleAfter(time.Millisecond, func() {
		done <- th.IsCurrent()
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case onThread := <-done:
		if !onThread {
			t.Fatal("callback did not run on the consumer thread")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestStrictModeRejectsCrossThreadScheduling(t *testing.T) {
	th := consumerthread.New()
	th.Start()
	defer th.Stop()

	r := NewRegistry(th, true, nil)
	// Calling from the test goroutine, never the dedicated thread.
	if _, err := r.ScheduleAfter(time.Millisecond, func() {}); err != apperr.ErrThreadSafetyViolation {
		t.Fatalf("expected ErrThreadSafetyViolation, got %v", err)
	}
}

func TestTargetDestroyedPanicIsAbsorbed(t *testing.T) {
	r, th := newTestRegistry(false)
	defer th.Stop()

	done := make(chan struct{})
	if _, err := r.ScheduleAfter(time.Millisecond, func() {
		defer close(done)
		panic(ErrTargetDestroyed)
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
	// Reaching here without the test process crashing demonstrates the panic
	// was absorbed rather than propagated to the dedicated goroutine's loop.
}
