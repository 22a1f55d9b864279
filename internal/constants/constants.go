// Package constants defines application-wide constants and magic numbers.
// Centralizing these values improves maintainability and reduces typos.
package constants

import "time"

// Application metadata
const (
	AppName    = "Kingo"
	AppID      = "com.kingo.app"
	AppVersion = "1.0.0"
)

// Persistence files, all under the OS-appropriate config base directory.
const (
	SettingsFile         = "settings.json"
	PendingDownloadsFile = "pending_downloads.json"
	HistoryFile          = "download_history.json"

	// PersistenceSchemaVersion is the current value written to every
	// persisted document's top-level "version" field.
	PersistenceSchemaVersion = 1
)

// Thread-Pool Registry
const (
	// DownloadPoolSize is the maximum concurrent download workers.
	DownloadPoolSize = 3
	// SearchPoolSize is the maximum concurrent search workers.
	SearchPoolSize = 3

	DownloadPoolName = "download"
	SearchPoolName   = "search"

	// DefaultShutdownTimeout bounds how long shutdown waits for cooperating
	// workers before reporting that the pool did not fully drain.
	DefaultShutdownTimeout = 10 * time.Second
)

// Event Bus
const (
	// BusQueueCapacity is the bounded FIFO capacity.
	BusQueueCapacity = 1000
	// BusDrainInterval is the consumer-thread drain tick period.
	BusDrainInterval = 100 * time.Millisecond
	// BusDrainBatch is the maximum events drained per tick.
	BusDrainBatch = 100
)

// Download Service progress throttling
const (
	// ProgressThrottleBoundary is the integer-percent step that triggers a
	// new DownloadProgress publication.
	ProgressThrottleBoundary = 5
)

// Queue Store / history retention
const (
	// DefaultHistoryLimit bounds how many HistoryEntry records are retained;
	// oldest entries are dropped first once the cap is exceeded.
	DefaultHistoryLimit = 500
)

// Settings schema defaults
const (
	DefaultTheme        = "dark"
	DefaultDownloadMode = "sequential"
	DefaultQuality      = "best"
)

// ThemeValues and DownloadModeValues enumerate the only legal values for
// their respective settings keys; set_theme/set_download_mode reject anything
// outside these sets.
var (
	ThemeValues        = []string{"dark", "light"}
	DownloadModeValues = []string{"sequential", "multi-threaded"}
)

// Diagnostics: startup statistics logging
const (
	StatsLogInterval = 3 * time.Minute
)

// Outbound-call rate limiting
const (
	// RateLimitBurst is the token-bucket burst size per remote host.
	RateLimitBurst = 5
	// RateLimitPerSecond is the steady-state refill rate per remote host.
	RateLimitPerSecond = 1.0
)

// SearchBackendBaseURL is the default remote catalog endpoint the
// SearchBackend collaborator queries. Overridable by a future settings key;
// none is defined yet (open item).
const SearchBackendBaseURL = "https://catalog.kingo.app/v1/search"
