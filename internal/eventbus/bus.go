// Package eventbus implements the Event Bus: the sole conduit
// from background workers to the single consumer thread that runs
// subscriber callbacks. It is deliberately standalone and binding-agnostic —
// the Wails application wiring re-publishes drained events onto
// application.Event.Emit via the ConsumerBinding passed to Start.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"kingo/internal/consumerthread"
	"kingo/internal/constants"
	"kingo/internal/events"

	"github.com/rs/zerolog"
)

// Subscription is the opaque token issued by Subscribe, required to Unsubscribe.
type Subscription uint64

// ConsumerBinding re-publishes a drained event onto the real UI/frontend
// transport (e.g. Wails' application.Event.Emit). It runs on the consumer
// thread; panics are absorbed the same as subscriber panics.
type ConsumerBinding func(events.Event)

type subscriber struct {
	id       Subscription
	callback func(events.Event)
}

// Bus is the process-wide singleton. Construct with New,
// wire subscribers, then call Start exactly once from the goroutine that
// should become the consumer thread's owner.
type Bus struct {
	log *zerolog.Logger

	queueMu sync.Mutex
	queue   []events.Event

	listenersMu sync.RWMutex
	listeners   map[events.Kind][]subscriber
	nextID      atomic.Uint64

	thread *consumerthread.Thread

	started atomic.Bool
	stopped atomic.Bool
	binding ConsumerBinding
}

// New constructs a Bus. logger may be nil in tests.
func New(log *zerolog.Logger) *Bus {
	return &Bus{
		log:       log,
		listeners: make(map[events.Kind][]subscriber),
		thread:    consumerthread.New(),
	}
}

// Publish is callable from any thread. Non-blocking: if the bounded queue
// (capacity constants.BusQueueCapacity) is full the event is dropped and
// Publish returns false. FIFO is preserved per calling goroutine because the
// append below is serialized by queueMu.
func (b *Bus) Publish(e events.Event) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.queueMu.Lock()
	if len(b.queue) >= constants.BusQueueCapacity {
		b.queueMu.Unlock()
		if b.log != nil {
			b.log.Warn().Str("kind", string(e.Kind)).Msg("event bus queue full, dropping event")
		}
		return false
	}
	b.queue = append(b.queue, e)
	b.queueMu.Unlock()
	return true
}

// Subscribe registers callback for kind. callback is only ever invoked on the
// consumer thread, in the order subscriptions were registered for that kind.
func (b *Bus) Subscribe(kind events.Kind, callback func(events.Event)) Subscription {
	id := Subscription(b.nextID.Add(1))
	b.listenersMu.Lock()
	b.listeners[kind] = append(b.listeners[kind], subscriber{id: id, callback: callback})
	b.listenersMu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Returns false if id was not found
// (already unsubscribed, or never existed).
func (b *Bus) Unsubscribe(id Subscription) bool {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for kind, subs := range b.listeners {
		for i, s := range subs {
			if s.id == id {
				b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Start must be called from the goroutine that is to become the consumer
// thread's host exactly once; a second call is a no-op. It spawns the
// dedicated consumer goroutine and begins the self-rescheduling drain loop.
func (b *Bus) Start(binding ConsumerBinding) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.binding = binding
	b.thread.Start()
	b.thread.Post(b.drainTick)
}

// Stop marks the bus inactive; the drain loop exits after its current batch
// and does not reschedule. The queue is cleared; the cleared count is logged.
func (b *Bus) Stop() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	b.queueMu.Lock()
	cleared := len(b.queue)
	b.queue = nil
	b.queueMu.Unlock()
	if b.log != nil {
		b.log.Info().Int("cleared", cleared).Msg("event bus stopped")
	}
}

// QueueSize reports the number of events currently queued. For tests.
func (b *Bus) QueueSize() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}

// ListenerCount reports how many live subscriptions exist for kind. For tests.
func (b *Bus) ListenerCount(kind events.Kind) int {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()
	return len(b.listeners[kind])
}

// IsConsumerThread reports whether the calling goroutine is the bus's
// dedicated consumer goroutine. Used by the Safe Callback Registry's strict
// mode to detect cross-thread scheduling attempts.
func (b *Bus) IsConsumerThread() bool {
	return b.thread.IsCurrent()
}

// Thread exposes the underlying consumer-thread primitive so a Safe Callback
// Registry can be composed against the same dedicated goroutine.
func (b *Bus) Thread() *consumerthread.Thread {
	return b.thread
}

// drainTick runs on the consumer thread. It drains up to BusDrainBatch events,
// dispatches each to its kind's subscribers in order, then reschedules itself
// after BusDrainInterval — unless the bus has been stopped.
func (b *Bus) drainTick() {
	if b.stopped.Load() {
		return
	}

	b.queueMu.Lock()
	n := len(b.queue)
	if n > constants.BusDrainBatch {
		n = constants.BusDrainBatch
	}
	batch := b.queue[:n:n]
	b.queue = b.queue[n:]
	b.queueMu.Unlock()

	for _, e := range batch {
		b.dispatch(e)
	}

	b.thread.PostAfter(constants.BusDrainInterval, b.drainTick)
}

func (b *Bus) dispatch(e events.Event) {
	b.listenersMu.RLock()
	subs := append([]subscriber(nil), b.listeners[e.Kind]...)
	b.listenersMu.RUnlock()

	for _, s := range subs {
		b.invokeSubscriber(s, e)
	}

	if b.binding != nil {
		b.invokeBinding(e)
	}
}

func (b *Bus) invokeSubscriber(s subscriber, e events.Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error().
				Uint64("subscription_id", uint64(s.id)).
				Str("kind", string(e.Kind)).
				Interface("panic", r).
				Msg("event bus subscriber panicked")
		}
	}()
	s.callback(e)
}

func (b *Bus) invokeBinding(e events.Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error().Interface("panic", r).Str("kind", string(e.Kind)).Msg("event bus consumer binding panicked")
		}
	}()
	b.binding(e)
}
