// Package callback implements the Safe Callback Registry: a
// per-consumer facility that tracks deferred UI-thread work and cancels it on
// teardown so a late delivery can never touch destroyed state.
package callback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kingo/internal/consumerthread"
	apperr "kingo/internal/errors"

	"github.com/rs/zerolog"
)

// Handle is the opaque token returned by ScheduleAfter/ScheduleIdle. The zero
// Handle is invalid — returned when the consumer is already torn down.
type Handle uint64

// Registry tracks every live deferred callback scheduled for one consumer
// (e.g. one UI window or widget) and guarantees none of them run once
// CleanupCallbacks has been called. It is meant to be composed into the
// consumer object it guards, per the "handle struct composed into every UI
// object" design note.
type Registry struct {
	thread *consumerthread.Thread
	strict bool
	log    *zerolog.Logger

	mu       sync.Mutex
	torn     atomic.Bool
	handles  map[Handle]*consumerthread.Handle
	nextID   atomic.Uint64
}

// NewRegistry binds a Registry to the consumer thread primitive shared with
// the Event Bus. strict mirrors the debug_thread_safety setting: when true,
// scheduling from a thread other than the consumer thread raises
// ErrThreadSafetyViolation instead of silently proceeding.
func NewRegistry(thread *consumerthread.Thread, strict bool, log *zerolog.Logger) *Registry {
	return &Registry{
		thread:  thread,
		strict:  strict,
		log:     log,
		handles: make(map[Handle]*consumerthread.Handle),
	}
}

// ScheduleAfter enqueues fn to run on the consumer thread after delay. If the
// consumer is already torn down it returns the zero Handle and does nothing.
func (r *Registry) ScheduleAfter(delay time.Duration, fn func()) (Handle, error) {
	return r.schedule(delay, fn)
}

// ScheduleIdle enqueues fn to run on the consumer thread at its next
// quiescent point (the next time the consumer-thread work queue drains to fn).
func (r *Registry) ScheduleIdle(fn func()) (Handle, error) {
	return r.schedule(0, fn)
}

func (r *Registry) schedule(delay time.Duration, fn func()) (Handle, error) {
	if r.torn.Load() {
		return 0, nil
	}
	if r.strict && !r.thread.IsCurrent() {
		return 0, apperr.ErrThreadSafetyViolation
	}

	id := Handle(r.nextID.Add(1))
	wrapped := r.wrap(id, fn)

	var th *consumerthread.Handle
	if delay > 0 {
		th = r.thread.PostAfter(delay, wrapped)
	} else {
		th = r.thread.PostAfter(0, wrapped)
	}

	r.mu.Lock()
	if r.torn.Load() {
		r.mu.Unlock()
		th.Cancel()
		return 0, nil
	}
	r.handles[id] = th
	r.mu.Unlock()

	return id, nil
}

// CleanupCallbacks cancels every live handle and tears the consumer down:
// every subsequent scheduling attempt becomes a no-op.
func (r *Registry) CleanupCallbacks() {
	r.torn.Store(true)

	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[Handle]*consumerthread.Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// ErrTargetDestroyed is the sentinel a scheduled callback should panic with
// (or wrap and panic with) to signal that its target no longer exists. The
// registry absorbs it at debug level instead of logging it as an error.
var ErrTargetDestroyed = errors.New("callback target was destroyed")

// wrap absorbs ErrTargetDestroyed panics at debug level, logs everything
// else at error level, and never lets a panic escape onto the consumer
// thread's own loop.
func (r *Registry) wrap(id Handle, fn func()) func() {
	return func() {
		r.mu.Lock()
		delete(r.handles, id)
		torn := r.torn.Load()
		r.mu.Unlock()
		if torn {
			return
		}

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, ErrTargetDestroyed) {
				if r.log != nil {
					r.log.Debug().Uint64("handle", uint64(id)).Msg("scheduled callback target destroyed, absorbed")
				}
				return
			}
			if r.log != nil {
				r.log.Error().Uint64("handle", uint64(id)).Interface("panic", rec).Msg("scheduled callback panicked")
			} else {
				fmt.Printf("scheduled callback panicked: %v\n", rec)
			}
		}()
		fn()
	}
}
