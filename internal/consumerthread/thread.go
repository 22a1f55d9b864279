// Package consumerthread provides a single dedicated goroutine that stands
// in for "the consumer thread" referenced throughout the spec: the only
// goroutine allowed to run Event Bus subscriber callbacks and Safe Callback
// Registry scheduled work. Goroutine-identity capture follows the same
// runtime.Stack parsing trick used by the pack's eventloop package to detect
// whether a caller is running on the loop's own goroutine.
package consumerthread

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Handle cancels a pending PostAfter call before it fires.
type Handle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Cancel prevents fn from running, if it hasn't already started.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	if h.timer != nil {
		h.timer.Stop()
	}
}

// Thread is a dedicated goroutine that executes posted work serially, in the
// order it is posted. It is the identity consumers of this package use as
// "the consumer thread".
type Thread struct {
	goroutineID atomic.Uint64
	workCh      chan func()
	doneCh      chan struct{}
	started     atomic.Bool
	stopped     atomic.Bool
	wg          sync.WaitGroup
}

// New constructs a Thread. Call Start to begin running it.
func New() *Thread {
	return &Thread{
		workCh: make(chan func(), 256),
		doneCh: make(chan struct{}),
	}
}

// Start spawns the dedicated goroutine. Idempotent: only the first call takes effect.
func (t *Thread) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.goroutineID.Store(currentGoroutineID())
		for {
			select {
			case fn := <-t.workCh:
				fn()
			case <-t.doneCh:
				return
			}
		}
	}()
}

// IsCurrent reports whether the calling goroutine is this Thread's dedicated
// goroutine. Before Start has run, it is never current.
func (t *Thread) IsCurrent() bool {
	id := t.goroutineID.Load()
	return id != 0 && currentGoroutineID() == id
}

// Post enqueues fn to run on the dedicated goroutine as soon as it is free.
// Returns false once the thread has been stopped.
func (t *Thread) Post(fn func()) bool {
	if t.stopped.Load() {
		return false
	}
	select {
	case t.workCh <- fn:
		return true
	case <-t.doneCh:
		return false
	}
}

// PostAfter schedules fn to run on the dedicated goroutine after d elapses.
// The returned Handle can cancel the pending call before it fires.
func (t *Thread) PostAfter(d time.Duration, fn func()) *Handle {
	h := &Handle{}
	h.timer = time.AfterFunc(d, func() {
		if h.cancelled.Load() {
			return
		}
		t.Post(fn)
	})
	return h
}

// Stop terminates the dedicated goroutine and waits for it to exit.
// Idempotent.
func (t *Thread) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	close(t.doneCh)
	t.wg.Wait()
}

// currentGoroutineID extracts the numeric id from the "goroutine N [...]"
// header that runtime.Stack writes for the calling goroutine.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
