// Package events centralizes the closed set of Event Bus event kinds and
// their payload shapes. Every value the core publishes is a
// member of this set; subscribers switch on Kind and type-assert Payload.
package events

import "time"

// Kind is the closed set a published Event may carry.
type Kind string

const (
	KindDownloadProgress Kind = "DownloadProgress"
	KindDownloadComplete Kind = "DownloadComplete"
	KindDownloadFailed   Kind = "DownloadFailed"
	KindDownloadStopped  Kind = "DownloadStopped"
	KindQueueUpdated     Kind = "QueueUpdated"
	KindSettingsChanged  Kind = "SettingsChanged"
	KindSearchComplete   Kind = "SearchComplete"
	KindSearchFailed     Kind = "SearchFailed"
)

// Event is the discriminated value transferred through the Event Bus.
// It is immutable after publication: Payload must not be mutated by
// subscribers once dispatched.
type Event struct {
	Kind      Kind
	Payload   interface{}
	Timestamp time.Time
}

// DownloadProgressPayload backs KindDownloadProgress.
type DownloadProgressPayload struct {
	TaskID          string
	Progress        float64
	DownloadedBytes int64 // 0 when unknown
	TotalBytes      int64 // 0 when unknown
}

// DownloadCompletePayload backs KindDownloadComplete.
type DownloadCompletePayload struct {
	TaskID   string
	FilePath string
}

// DownloadFailedPayload backs KindDownloadFailed.
type DownloadFailedPayload struct {
	TaskID string
	Error  string
}

// DownloadStoppedPayload backs KindDownloadStopped.
type DownloadStoppedPayload struct {
	TaskID string
	Reason string
}

// QueueAction enumerates the QueueUpdated payload's action field.
type QueueAction string

const (
	QueueActionAdd    QueueAction = "add"
	QueueActionRemove QueueAction = "remove"
	QueueActionUpdate QueueAction = "update"
	QueueActionClear  QueueAction = "clear"
)

// QueueUpdatedPayload backs KindQueueUpdated.
type QueueUpdatedPayload struct {
	Action    QueueAction
	TaskID    string // empty for clear
	TaskCount int
}

// SettingsChangedPayload backs KindSettingsChanged.
type SettingsChangedPayload struct {
	ChangedKeys []string
	Settings    interface{} // settings.Snapshot; interface{} avoids an import cycle
}

// SearchCompletePayload backs KindSearchComplete.
type SearchCompletePayload struct {
	Query       string
	Results     interface{}
	ResultCount int
}

// SearchFailedPayload backs KindSearchFailed.
type SearchFailedPayload struct {
	Query string
	Error string
}
