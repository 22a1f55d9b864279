package download

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"kingo/internal/events"
	"kingo/internal/media"
	"kingo/internal/model"
	"kingo/internal/pool"
	"kingo/internal/queue"
)

type fakeFetcher struct {
	fetch func(ctx context.Context, descriptor model.VideoDescriptor, outputDir string, sink media.ProgressSink) (string, error)
}

func (f *fakeFetcher) Describe(ctx context.Context, url string) (model.VideoDescriptor, error) {
	return model.VideoDescriptor{}, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, descriptor model.VideoDescriptor, outputDir string, sink media.ProgressSink) (string, error) {
	return f.fetch(ctx, descriptor, outputDir, sink)
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(e events.Event) bool {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	return true
}

func (b *recordingBus) snapshot() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func (b *recordingBus) countKind(kind events.Kind) int {
	n := 0
	for _, e := range b.snapshot() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fakeSettings struct{}

func (fakeSettings) Get(key string) (interface{}, bool) {
	if key == "history_limit" {
		return 500, true
	}
	return nil, false
}

func mustDescriptor(t *testing.T, url string) model.VideoDescriptor {
	t.Helper()
	d, err := model.NewVideoDescriptor(url, "title", "author", 60, "", []string{"best"}, "best", "", false)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// S1: add then complete — progress crosses boundaries, ends Completed with a
// single DownloadComplete and zero DownloadFailed.
func TestStartThenCompleteEmitsProgressAndComplete(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/1"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	registry := pool.NewRegistry(nil)
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		sink(0, 0, 10)
		sink(0, 0, 55)
		sink(0, 0, 100)
		return dir + "/1.mp4", nil
	}}

	svc := New(q, registry, bus, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	ok, err := svc.Start(task.ID)
	if err != nil || !ok {
		t.Fatalf("Start: ok=%v err=%v", ok, err)
	}

	waitFor(t, 2*time.Second, func() bool { return bus.countKind(events.KindDownloadComplete) == 1 })

	if bus.countKind(events.KindDownloadFailed) != 0 {
		t.Fatal("expected zero DownloadFailed events")
	}
	got, _ := q.Get(task.ID)
	if got.Status != model.StatusCompleted || got.Progress != 100 {
		t.Fatalf("final task state = %+v", got)
	}
}

// P6/S2: stop immediately after start yields exactly one DownloadStopped and
// never Completed/Failed.
func TestStopImmediatelyAfterStartYieldsStopped(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/2"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	registry := pool.NewRegistry(nil)
	started := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}

	svc := New(q, registry, bus, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if ok, err := svc.Start(task.ID); err != nil || !ok {
		t.Fatalf("Start: ok=%v err=%v", ok, err)
	}
	svc.Stop(task.ID)

	waitFor(t, 2*time.Second, func() bool { return bus.countKind(events.KindDownloadStopped) == 1 })

	if bus.countKind(events.KindDownloadComplete) != 0 || bus.countKind(events.KindDownloadFailed) != 0 {
		t.Fatal("a stopped task must never also report Complete or Failed")
	}
	got, _ := q.Get(task.ID)
	if got.Status != model.StatusStopped {
		t.Fatalf("final status = %v, want Stopped", got.Status)
	}
}

// S2 alternate: stop(id) before the task has ever started returns false.
func TestStopWithNoActiveWorkerReturnsFalse(t *testing.T) {
	q := queue.New(nil)
	task, _ := q.Add(mustDescriptor(t, "https://x/3"), t.TempDir())

	svc := New(q, pool.NewRegistry(nil), &recordingBus{}, &fakeFetcher{}, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if svc.Stop(task.ID) {
		t.Fatal("expected false: no token recorded until Start is called")
	}
}

// S5: a subtitle-only failure is non-fatal — the task still completes.
func TestSubtitleFailureIsNonFatal(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/4"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		path := dir + "/4.mp4"
		return path, &media.SubtitleError{Path: path, Err: fmt.Errorf("404")}
	}}

	svc := New(q, pool.NewRegistry(nil), bus, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if ok, err := svc.Start(task.ID); err != nil || !ok {
		t.Fatalf("Start: ok=%v err=%v", ok, err)
	}

	waitFor(t, 2*time.Second, func() bool { return bus.countKind(events.KindDownloadComplete) == 1 })
	if bus.countKind(events.KindDownloadFailed) != 0 {
		t.Fatal("subtitle-only failure must not produce DownloadFailed")
	}
}

// P7: progress events for a single task never exceed 22.
func TestProgressThrottlingBoundsEventCount(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/5"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		for p := 0.0; p <= 100; p += 0.5 {
			sink(0, 0, p)
		}
		return dir + "/5.mp4", nil
	}}

	svc := New(q, pool.NewRegistry(nil), bus, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if ok, err := svc.Start(task.ID); err != nil || !ok {
		t.Fatalf("Start: ok=%v err=%v", ok, err)
	}
	waitFor(t, 2*time.Second, func() bool { return bus.countKind(events.KindDownloadComplete) == 1 })

	if n := bus.countKind(events.KindDownloadProgress); n > 22 {
		t.Fatalf("published %d DownloadProgress events, want <= 22", n)
	}
}

// A genuine fetch failure classifies the error and reports Failed exactly once.
func TestFetchFailureReportsFailed(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/6"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := &recordingBus{}
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		return "", fmt.Errorf("format unavailable for this resolution")
	}}

	svc := New(q, pool.NewRegistry(nil), bus, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if ok, err := svc.Start(task.ID); err != nil || !ok {
		t.Fatalf("Start: ok=%v err=%v", ok, err)
	}
	waitFor(t, 2*time.Second, func() bool { return bus.countKind(events.KindDownloadFailed) == 1 })

	got, _ := q.Get(task.ID)
	if got.Status != model.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("final task state = %+v", got)
	}
}

func TestStartTwiceReturnsFalseWhileActive(t *testing.T) {
	q := queue.New(nil)
	task, err := q.Add(mustDescriptor(t, "https://x/7"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, d model.VideoDescriptor, dir string, sink media.ProgressSink) (string, error) {
		<-release
		return dir + "/7.mp4", nil
	}}

	svc := New(q, pool.NewRegistry(nil), &recordingBus{}, fetcher, fakeSettings{}, t.TempDir()+"/history.json", nil)
	if ok, _ := svc.Start(task.ID); !ok {
		t.Fatal("first Start should succeed")
	}
	waitFor(t, time.Second, func() bool { return svc.ActiveCount() == 1 })

	if ok, err := svc.Start(task.ID); ok || err != nil {
		t.Fatalf("second Start while active: ok=%v err=%v, want false,nil", ok, err)
	}
	close(release)
}
