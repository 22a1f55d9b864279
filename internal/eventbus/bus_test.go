package eventbus

import (
	"sync"
	"testing"
	"time"

	"kingo/internal/consumerthread"
	"kingo/internal/constants"
	"kingo/internal/events"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

// P1: FIFO per producer for a single producer's sequence of same-kind events.
func TestBusFIFOPerProducer(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var got []int

	b.Subscribe(events.KindDownloadProgress, func(e events.Event) {
		mu.Lock()
		got = append(got, e.Payload.(int))
		mu.Unlock()
	})

	b.Start(nil)
	defer b.Stop()

	for i := 0; i < 10; i++ {
		if !b.Publish(events.Event{Kind: events.KindDownloadProgress, Payload: i}) {
			t.Fatalf("publish %d unexpectedly full", i)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 10
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

// P2: subscriber callbacks run on the consumer thread, not the publisher's.
func TestBusSubscribersRunOnConsumerThread(t *testing.T) {
	b := New(nil)
	done := make(chan bool, 1)

	b.Subscribe(events.KindDownloadComplete, func(e events.Event) {
		done <- b.IsConsumerThread()
	})

	b.Start(nil)
	defer b.Stop()

	b.Publish(events.Event{Kind: events.KindDownloadComplete})

	select {
	case onConsumer := <-done:
		if !onConsumer {
			t.Fatal("subscriber callback did not run on the consumer thread")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

// P3: a full queue rejects further publishes without growing past capacity.
func TestBusBoundedQueueRejectsWhenFull(t *testing.T) {
	b := New(nil)
	// Never started: nothing drains, so the queue fills deterministically.

	accepted := 0
	rejected := 0
	for i := 0; i < constants.BusQueueCapacity+500; i++ {
		if b.Publish(events.Event{Kind: events.KindQueueUpdated}) {
			accepted++
		} else {
			rejected++
		}
	}

	if accepted != constants.BusQueueCapacity {
		t.Fatalf("accepted = %d, want %d", accepted, constants.BusQueueCapacity)
	}
	if rejected != 500 {
		t.Fatalf("rejected = %d, want 500", rejected)
	}
	if b.QueueSize() != constants.BusQueueCapacity {
		t.Fatalf("queue size = %d, want %d", b.QueueSize(), constants.BusQueueCapacity)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	var calls int
	var mu sync.Mutex

	id := b.Subscribe(events.KindSearchComplete, func(e events.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.Start(nil)
	defer b.Stop()

	if !b.Unsubscribe(id) {
		t.Fatal("unsubscribe of live subscription returned false")
	}
	if b.Unsubscribe(id) {
		t.Fatal("second unsubscribe of same id should return false")
	}

	b.Publish(events.Event{Kind: events.KindSearchComplete})
	time.Sleep(constants.BusDrainInterval * 3)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("unsubscribed callback was invoked %d times", calls)
	}
}

func TestBusStartTwiceIsNoOp(t *testing.T) {
	b := New(nil)
	b.Start(nil)
	defer b.Stop()
	b.Start(nil) // must not panic or spawn a second drain loop
}

func TestBusSubscriberPanicDoesNotStopDrain(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	done := make(chan struct{})

	b.Subscribe(events.KindDownloadFailed, func(e events.Event) {
		panic("boom")
	})
	b.Subscribe(events.KindDownloadFailed, func(e events.Event) {
		secondCalled = true
		close(done)
	})

	b.Start(nil)
	defer b.Stop()

	b.Publish(events.Event{Kind: events.KindDownloadFailed})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber never ran after first panicked")
	}
	if !secondCalled {
		t.Fatal("second subscriber not called")
	}
}

func TestConsumerThreadIdentity(t *testing.T) {
	th := consumerthread.New()
	th.Start()
	defer th.Stop()

	if th.IsCurrent() {
		t.Fatal("calling goroutine should not be the dedicated thread")
	}

	var sawCurrent bool
	doneCh := make(chan struct{})
	th.Post(func() {
		sawCurrent = th.IsCurrent()
		close(doneCh)
	})
	<-doneCh
	if !sawCurrent {
		t.Fatal("posted function did not observe itself as the dedicated thread")
	}
}
