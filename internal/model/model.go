// Package model holds the immutable and mutable record types shared by the
// Queue Store, Download Service, and Settings Store.
package model

import (
	"time"

	apperr "kingo/internal/errors"
	"kingo/internal/validate"
)

// Status is a DownloadTask's position in the per-task state machine.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether s is one of the state machine's sticky terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// VideoDescriptor is the immutable record describing what to fetch.
// Construct with NewVideoDescriptor so the url/quality invariants always hold.
type VideoDescriptor struct {
	URL                string
	Title              string
	Author             string
	DurationSeconds    int
	ThumbnailURL       string
	AvailableQualities []string
	SelectedQuality    string
	FilenameHint       string
	DownloadSubtitles  bool
}

// NewVideoDescriptor validates its inputs and returns an immutable descriptor.
func NewVideoDescriptor(url, title, author string, durationSeconds int, thumbnailURL string, availableQualities []string, selectedQuality, filenameHint string, downloadSubtitles bool) (VideoDescriptor, error) {
	if err := validate.DescriptorURL(url); err != nil {
		return VideoDescriptor{}, err
	}
	if durationSeconds < 0 {
		return VideoDescriptor{}, apperr.NewWithMessage("model.NewVideoDescriptor", apperr.ErrInvalidURL, "duration_seconds must be >= 0")
	}
	if selectedQuality == "" {
		selectedQuality = "best"
	}

	qualities := make([]string, len(availableQualities))
	copy(qualities, availableQualities)

	return VideoDescriptor{
		URL:                url,
		Title:              title,
		Author:             author,
		DurationSeconds:    durationSeconds,
		ThumbnailURL:       thumbnailURL,
		AvailableQualities: qualities,
		SelectedQuality:    selectedQuality,
		FilenameHint:       filenameHint,
		DownloadSubtitles:  downloadSubtitles,
	}, nil
}

// DownloadTask is the mutable per-download record owned exclusively by the
// Queue Store; only update_status may mutate Status/Progress.
type DownloadTask struct {
	ID           string
	Descriptor   VideoDescriptor
	Status       Status
	Progress     float64
	DownloadPath string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// Clone returns a value copy safe to hand to callers outside the Queue Store's lock.
func (t DownloadTask) Clone() DownloadTask {
	clone := t
	clone.Descriptor.AvailableQualities = append([]string(nil), t.Descriptor.AvailableQualities...)
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return clone
}

// HistoryEntry is the immutable record of a completed download, appended
// by the Download Service after a Completed transition.
type HistoryEntry struct {
	ID          string
	Descriptor  VideoDescriptor
	FinalPath   string
	CompletedAt time.Time
	SizeBytes   int64
}
