// Package download implements the Download Service: the hardest
// subsystem in the runtime. It owns the decision of whether and when to
// run each queued task, drives per-task progress through the Event Bus,
// and translates worker outcomes into Completed/Failed/Stopped transitions.
package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"kingo/internal/classify"
	"kingo/internal/constants"
	apperr "kingo/internal/errors"
	"kingo/internal/events"
	"kingo/internal/media"
	"kingo/internal/model"
	"kingo/internal/pool"
	"kingo/internal/queue"

	"github.com/rs/zerolog"
)

// Publisher is the narrow Event Bus dependency the service needs.
type Publisher interface {
	Publish(e events.Event) bool
}

// Pools is the narrow Thread-Pool Registry dependency the service needs.
type Pools interface {
	DownloadPool() (*pool.Pool, error)
}

// SettingsReader is the narrow Settings Store dependency the service needs:
// the history cap.
type SettingsReader interface {
	Get(key string) (interface{}, bool)
}

// Service is the process-wide singleton described by the Download Service
// contract. Its active/cancel maps are guarded by a single mutex, held only
// for short map operations — never across a worker's actual network I/O.
type Service struct {
	queue    *queue.Store
	pools    Pools
	bus      Publisher
	fetcher  media.Fetcher
	settings SettingsReader
	log      *zerolog.Logger

	historyPath string

	mu     sync.Mutex
	active map[string]*pool.CompletionHandle
	cancel map[string]*pool.CancelToken
}

// New constructs a Service. historyPath is the durable download_history.json
// location the worker hands completed entries off to.
func New(q *queue.Store, pools Pools, bus Publisher, fetcher media.Fetcher, settings SettingsReader, historyPath string, log *zerolog.Logger) *Service {
	return &Service{
		queue:       q,
		pools:       pools,
		bus:         bus,
		fetcher:     fetcher,
		settings:    settings,
		historyPath: historyPath,
		log:         log,
		active:      make(map[string]*pool.CompletionHandle),
		cancel:      make(map[string]*pool.CancelToken),
	}
}

// Start submits task_id's worker to the download pool. Returns false without
// error if the task is already active; returns an error if the task does
// not exist or the pool rejects the submission.
func (s *Service) Start(taskID string) (bool, error) {
	task, ok := s.queue.Get(taskID)
	if !ok {
		return false, apperr.ErrTaskNotFound
	}

	s.mu.Lock()
	if _, already := s.active[taskID]; already {
		s.mu.Unlock()
		return false, nil
	}

	downloadPool, err := s.pools.DownloadPool()
	if err != nil {
		s.mu.Unlock()
		return false, err
	}

	var finalPath string
	handle, token, err := downloadPool.Submit(func(token *pool.CancelToken) error {
		return s.runWorker(task, token, &finalPath)
	})
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.active[taskID] = handle
	s.cancel[taskID] = token
	s.mu.Unlock()

	go s.awaitCompletion(taskID, handle, &finalPath)
	return true, nil
}

// Stop sets task_id's cancellation token if one is recorded. Returns false
// if the task has no active worker (never started, or already finished).
func (s *Service) Stop(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.cancel[taskID]
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

// StopAll sets every recorded task's cancellation token.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.cancel {
		token.Cancel()
	}
}

// StartAllQueued starts every task currently in Queued status. Errors
// starting one task do not prevent the rest from being attempted; the
// count returned is the number successfully started.
func (s *Service) StartAllQueued() int {
	started := 0
	for _, task := range s.queue.ByStatus(model.StatusQueued) {
		ok, err := s.Start(task.ID)
		if err != nil && s.log != nil {
			s.log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to start queued task")
		}
		if ok {
			started++
		}
	}
	return started
}

// ActiveCount reports how many tasks currently have a worker in flight.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// runWorker is the worker body, run on the download pool. It is the only
// code that transitions a task into or out of Downloading.
func (s *Service) runWorker(task model.DownloadTask, token *pool.CancelToken, finalPath *string) error {
	if token.Cancelled() {
		// Cancelled before this worker was ever dispatched by the pool's
		// semaphore: Queued -> Stopped directly, never touching Downloading.
		reason := "cancelled by user"
		s.queue.UpdateStatus(task.ID, model.StatusStopped, nil, &reason)
		return nil
	}

	if _, err := s.queue.UpdateStatus(task.ID, model.StatusDownloading, floatPtr(0), nil); err != nil {
		return err
	}
	thrown := newProgressThrottle()
	thrown.crosses(0)
	s.publishProgress(task.ID, 0, 0, 0)

	sink := func(downloadedBytes, totalBytes int64, percent float64) {
		if token.Cancelled() {
			return
		}
		if thrown.crosses(percent) {
			s.publishProgress(task.ID, percent, downloadedBytes, totalBytes)
		}
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go func() {
		for !token.Cancelled() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
		cancelCtx()
	}()

	path, err := s.fetcher.Fetch(ctx, task.Descriptor, task.DownloadPath, sink)

	var subtitleErr *media.SubtitleError
	if errors.As(err, &subtitleErr) {
		// Subtitle non-fatal rule: the main media artifact is already valid.
		path, err = subtitleErr.Path, nil
	}

	if token.Cancelled() {
		reason := "cancelled by user"
		s.queue.UpdateStatus(task.ID, model.StatusStopped, nil, &reason)
		return nil
	}

	if err != nil {
		category := classify.Classify(err.Error())
		msg := string(category) + ": " + err.Error()
		if s.log != nil {
			s.log.Error().Err(err).Str("task_id", task.ID).Str("url", task.Descriptor.URL).
				Str("operation", "fetch").Str("category", string(category)).Msg("download failed")
		}
		s.queue.UpdateStatus(task.ID, model.StatusFailed, nil, &msg)
		return errors.New(msg)
	}

	if _, err := s.queue.UpdateStatus(task.ID, model.StatusCompleted, floatPtr(100), nil); err != nil {
		return err
	}
	if thrown.crosses(100) {
		s.publishProgress(task.ID, 100, 0, 0)
	}

	*finalPath = path
	completed, _ := s.queue.Get(task.ID)
	s.appendHistory(completed, path)
	return nil
}

// awaitCompletion runs on its own goroutine (any thread) and is the
// completion callback: it removes the task's bookkeeping entries and
// translates the worker's outcome into the terminal Download* event.
func (s *Service) awaitCompletion(taskID string, handle *pool.CompletionHandle, finalPath *string) {
	outcome, err := handle.Wait()

	s.mu.Lock()
	delete(s.active, taskID)
	delete(s.cancel, taskID)
	s.mu.Unlock()

	switch outcome {
	case pool.OutcomeSuccess:
		s.bus.Publish(events.Event{
			Kind: events.KindDownloadComplete,
			Payload: events.DownloadCompletePayload{
				TaskID:   taskID,
				FilePath: *finalPath,
			},
		})
	case pool.OutcomeCancelled:
		s.bus.Publish(events.Event{
			Kind: events.KindDownloadStopped,
			Payload: events.DownloadStoppedPayload{
				TaskID: taskID,
				Reason: "cancelled by user",
			},
		})
	case pool.OutcomeFailed:
		msg := "download failed"
		if err != nil {
			msg = err.Error()
		}
		s.bus.Publish(events.Event{
			Kind: events.KindDownloadFailed,
			Payload: events.DownloadFailedPayload{
				TaskID: taskID,
				Error:  msg,
			},
		})
	}
}

func (s *Service) publishProgress(taskID string, percent float64, downloadedBytes, totalBytes int64) {
	s.bus.Publish(events.Event{
		Kind: events.KindDownloadProgress,
		Payload: events.DownloadProgressPayload{
			TaskID:          taskID,
			Progress:        percent,
			DownloadedBytes: downloadedBytes,
			TotalBytes:      totalBytes,
		},
	})
}

func (s *Service) appendHistory(task model.DownloadTask, path string) {
	if task.ID == "" {
		return
	}
	limit := 0
	if v, ok := s.settings.Get("history_limit"); ok {
		if n, ok := v.(int); ok {
			limit = n
		}
	}
	entry := model.HistoryEntry{
		ID:          task.ID,
		Descriptor:  task.Descriptor,
		FinalPath:   path,
		CompletedAt: time.Now(),
	}
	if err := s.queue.AppendHistory(s.historyPath, entry, limit); err != nil && s.log != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to append history entry")
	}
}

func floatPtr(v float64) *float64 { return &v }

// progressThrottle implements the 5-percent boundary rule: a DownloadProgress
// event is published only when the integer percent crosses a new multiple of
// ProgressThrottleBoundary (or reaches 100), bounding a single task to at
// most 22 publications regardless of how many raw progress callbacks arrive.
type progressThrottle struct {
	lastBoundary int
	seenAny      bool
}

func newProgressThrottle() *progressThrottle {
	return &progressThrottle{lastBoundary: -1}
}

func (t *progressThrottle) crosses(percent float64) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	boundary := int(percent) / constants.ProgressThrottleBoundary * constants.ProgressThrottleBoundary
	if percent >= 100 {
		boundary = 100
	}
	if boundary == t.lastBoundary && t.seenAny {
		return false
	}
	t.lastBoundary = boundary
	t.seenAny = true
	return true
}
