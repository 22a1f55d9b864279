// Package queue implements the Queue Store: a thread-safe registry of
// DownloadTasks with url deduplication, state-machine-legal status
// transitions, and durable snapshotting for crash-recovery resume.
package queue

import (
	"sync"
	"time"

	apperr "kingo/internal/errors"
	"kingo/internal/events"
	"kingo/internal/model"
	"kingo/internal/persist"

	"github.com/google/uuid"
)

// Publisher is the narrow Event Bus dependency the store needs.
type Publisher interface {
	Publish(e events.Event) bool
}

// legalTransitions enumerates every permitted (from, to) status pair,
// including same-state self-loops for the two non-terminal statuses so a
// progress-only update_status call is not mistaken for an illegal transition.
var legalTransitions = map[model.Status]map[model.Status]bool{
	model.StatusQueued: {
		model.StatusQueued:      true,
		model.StatusDownloading: true,
		model.StatusStopped:     true,
	},
	model.StatusDownloading: {
		model.StatusDownloading: true,
		model.StatusCompleted:   true,
		model.StatusFailed:      true,
		model.StatusStopped:     true,
	},
}

// Store is the process-wide singleton holding the ordered list of
// DownloadTasks. Every public operation acquires mu; mutators hold it for
// the entire transition, readers return copies.
type Store struct {
	mu    sync.Mutex
	tasks []model.DownloadTask
	byID  map[string]int // task id -> index in tasks
	bus   Publisher
}

// New constructs an empty Store. bus may be nil (used by focused unit tests).
func New(bus Publisher) *Store {
	return &Store{
		byID: make(map[string]int),
		bus:  bus,
	}
}

// Add appends a new Queued task for descriptor at path. Fails with
// ErrDuplicateURL if descriptor.URL already has a live (non-removed) task.
func (s *Store) Add(descriptor model.VideoDescriptor, path string) (model.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(descriptor, path)
}

func (s *Store) add(descriptor model.VideoDescriptor, path string) (model.DownloadTask, error) {
	if s.isURLPresent(descriptor.URL) {
		return model.DownloadTask{}, apperr.ErrDuplicateURL
	}

	task := model.DownloadTask{
		ID:           uuid.NewString(),
		Descriptor:   descriptor,
		Status:       model.StatusQueued,
		Progress:     0,
		DownloadPath: path,
		CreatedAt:    time.Now(),
	}
	s.byID[task.ID] = len(s.tasks)
	s.tasks = append(s.tasks, task)

	s.publishQueueUpdated(events.QueueActionAdd, task.ID)
	return task.Clone(), nil
}

// Remove deletes the task with id. Returns whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.tasks); i++ {
		s.byID[s.tasks[i].ID] = i
	}

	s.publishQueueUpdated(events.QueueActionRemove, id)
	return true
}

// Get returns a copy of the task with id, if present.
func (s *Store) Get(id string) (model.DownloadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return model.DownloadTask{}, false
	}
	return s.tasks[idx].Clone(), true
}

// All returns a snapshot copy of every task.
func (s *Store) All() []model.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DownloadTask, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// ByStatus returns a snapshot copy of every task whose Status equals status.
func (s *Store) ByStatus(status model.Status) []model.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DownloadTask
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	return out
}

// UpdateStatus is the sole status/progress mutator. It enforces transition
// legality and publishes QueueUpdated on success.
func (s *Store) UpdateStatus(id string, status model.Status, progress *float64, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return false, apperr.ErrTaskNotFound
	}

	current := s.tasks[idx].Status
	if !legalTransitions[current][status] {
		return false, apperr.ErrInvalidTransition
	}

	task := &s.tasks[idx]
	task.Status = status
	if progress != nil {
		task.Progress = *progress
	}
	if errMsg != nil {
		task.ErrorMessage = *errMsg
	}
	if status == model.StatusCompleted {
		task.Progress = 100
		now := time.Now()
		task.CompletedAt = &now
	}

	s.publishQueueUpdated(events.QueueActionUpdate, id)
	return true, nil
}

// IsURLPresent reports whether url already belongs to a live task.
func (s *Store) IsURLPresent(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isURLPresent(url)
}

func (s *Store) isURLPresent(url string) bool {
	for _, t := range s.tasks {
		if t.Descriptor.URL == url {
			return true
		}
	}
	return false
}

// Clear removes every task and publishes a single QueueUpdated(clear) event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
	s.byID = make(map[string]int)
	s.publishQueueUpdated(events.QueueActionClear, "")
}

// pendingRecord is the on-disk shape of one resumable task, per the
// pending_downloads.json schema.
type pendingRecord struct {
	ID                string   `json:"id"`
	URL               string   `json:"url"`
	Title             string   `json:"title"`
	Author            string   `json:"author"`
	DurationSeconds   int      `json:"duration_seconds"`
	ThumbnailURL      string   `json:"thumbnail_url"`
	AvailableQuality  []string `json:"available_qualities"`
	SelectedQuality   string   `json:"selected_quality"`
	FilenameHint      string   `json:"filename_hint"`
	DownloadSubtitles bool     `json:"download_subtitles"`
	DownloadPath      string   `json:"download_path"`
	Status            string   `json:"status"`
	Progress          float64  `json:"progress"`
	CreatedAt         string   `json:"created_at"`
}

type pendingDocument struct {
	Tasks []pendingRecord `json:"tasks"`
}

// SnapshotPending writes every task with status in {Queued, Downloading,
// Stopped} to target. Downloading is normalized to Queued on reload, not on
// write, per the reload-time normalization rule.
func (s *Store) SnapshotPending(target string) error {
	s.mu.Lock()
	records := s.toPendingRecords()
	s.mu.Unlock()

	return persist.Save(target, pendingDocument{Tasks: records}, nil)
}

func (s *Store) toPendingRecords() []pendingRecord {
	var out []pendingRecord
	for _, t := range s.tasks {
		if t.Status != model.StatusQueued && t.Status != model.StatusDownloading && t.Status != model.StatusStopped {
			continue
		}
		out = append(out, pendingRecord{
			ID:                t.ID,
			URL:               t.Descriptor.URL,
			Title:             t.Descriptor.Title,
			Author:            t.Descriptor.Author,
			DurationSeconds:   t.Descriptor.DurationSeconds,
			ThumbnailURL:      t.Descriptor.ThumbnailURL,
			AvailableQuality:  t.Descriptor.AvailableQualities,
			SelectedQuality:   t.Descriptor.SelectedQuality,
			FilenameHint:      t.Descriptor.FilenameHint,
			DownloadSubtitles: t.Descriptor.DownloadSubtitles,
			DownloadPath:      t.DownloadPath,
			Status:            string(t.Status),
			Progress:          t.Progress,
			CreatedAt:         t.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

// LoadPending reads and validates a pending snapshot, normalizing
// Downloading to Queued, without mutating the store.
func LoadPending(source string) ([]model.DownloadTask, error) {
	var doc pendingDocument
	if _, _, err := persist.Load(source, &doc); err != nil {
		return nil, err
	}

	out := make([]model.DownloadTask, 0, len(doc.Tasks))
	for _, r := range doc.Tasks {
		descriptor, err := model.NewVideoDescriptor(
			r.URL, r.Title, r.Author, r.DurationSeconds, r.ThumbnailURL,
			r.AvailableQuality, r.SelectedQuality, r.FilenameHint, r.DownloadSubtitles,
		)
		if err != nil {
			continue
		}

		status := model.Status(r.Status)
		if status == model.StatusDownloading {
			status = model.StatusQueued
		}

		createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
		out = append(out, model.DownloadTask{
			ID:           r.ID,
			Descriptor:   descriptor,
			Status:       status,
			Progress:     r.Progress,
			DownloadPath: r.DownloadPath,
			CreatedAt:    createdAt,
		})
	}
	return out, nil
}

// RestoreTask re-admits a task loaded via LoadPending into the store,
// bypassing Add's url-dedup check (a resumed task is not a new submission).
func (s *Store) RestoreTask(task model.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[task.ID] = len(s.tasks)
	s.tasks = append(s.tasks, task)
}

type exportDocument struct {
	Tasks []pendingRecord `json:"tasks"`
}

// Export writes every task, regardless of status, to target in the same
// schema as SnapshotPending.
func (s *Store) Export(target string) error {
	s.mu.Lock()
	var out []pendingRecord
	for _, t := range s.tasks {
		out = append(out, pendingRecord{
			ID: t.ID, URL: t.Descriptor.URL, Title: t.Descriptor.Title,
			Author: t.Descriptor.Author, DurationSeconds: t.Descriptor.DurationSeconds,
			ThumbnailURL: t.Descriptor.ThumbnailURL, AvailableQuality: t.Descriptor.AvailableQualities,
			SelectedQuality: t.Descriptor.SelectedQuality, FilenameHint: t.Descriptor.FilenameHint,
			DownloadSubtitles: t.Descriptor.DownloadSubtitles, DownloadPath: t.DownloadPath,
			Status: string(t.Status), Progress: t.Progress, CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}
	s.mu.Unlock()

	return persist.Save(target, exportDocument{Tasks: out}, nil)
}

// Import bulk-loads tasks from source, skipping any whose URL already has a
// live task. Returns the count actually admitted.
func (s *Store) Import(source string) (int, error) {
	tasks, err := LoadPending(source)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range tasks {
		if s.isURLPresent(t.Descriptor.URL) {
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		s.byID[t.ID] = len(s.tasks)
		s.tasks = append(s.tasks, t)
		count++
	}
	if count > 0 {
		s.publishQueueUpdated(events.QueueActionUpdate, "")
	}
	return count, nil
}

type historyRecord struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	FinalPath   string `json:"final_path"`
	CompletedAt string `json:"completed_at"`
	SizeBytes   int64  `json:"size_bytes"`
}

type historyDocument struct {
	Entries []historyRecord `json:"entries"`
}

// AppendHistory prepends entry to the durable history log at path, most
// recent first, trimming to limit entries — the history retention cap
// supplemented beyond the distilled schema (default 500, Settings
// Store-governed). A failure to read the existing log is treated as an
// empty log, matching the Settings Store's load-falls-back-to-default
// posture.
func (s *Store) AppendHistory(path string, entry model.HistoryEntry, limit int) error {
	var doc historyDocument
	persist.Load(path, &doc)

	record := historyRecord{
		ID:          entry.ID,
		URL:         entry.Descriptor.URL,
		Title:       entry.Descriptor.Title,
		FinalPath:   entry.FinalPath,
		CompletedAt: entry.CompletedAt.Format(time.RFC3339),
		SizeBytes:   entry.SizeBytes,
	}
	doc.Entries = append([]historyRecord{record}, doc.Entries...)
	if limit > 0 && len(doc.Entries) > limit {
		doc.Entries = doc.Entries[:limit]
	}

	return persist.Save(path, doc, nil)
}

func (s *Store) publishQueueUpdated(action events.QueueAction, taskID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind: events.KindQueueUpdated,
		Payload: events.QueueUpdatedPayload{
			Action:    action,
			TaskID:    taskID,
			TaskCount: len(s.tasks),
		},
	})
}
