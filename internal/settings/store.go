// Package settings implements the Settings Store: a process-wide
// configuration cell with atomic read/write, schema validation, and
// change notification onto the Event Bus.
package settings

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"kingo/internal/constants"
	apperr "kingo/internal/errors"
	"kingo/internal/events"
	"kingo/internal/persist"
	"kingo/internal/validate"

	"github.com/rs/zerolog"
)

// Snapshot is the value-type copy returned to every reader; internal storage
// is never leaked.
type Snapshot struct {
	DownloadDirectory    string `json:"download_directory"`
	Theme                string `json:"theme"`
	DownloadMode         string `json:"download_mode"`
	SubtitleDownload     bool   `json:"subtitle_download"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	AutoResume           bool   `json:"auto_resume"`
	DebugThreadSafety    bool   `json:"debug_thread_safety"`
	HistoryLimit         int    `json:"history_limit"`
}

// Default returns the schema's documented default values.
func Default(downloadDirectory string) Snapshot {
	return Snapshot{
		DownloadDirectory:    downloadDirectory,
		Theme:                constants.DefaultTheme,
		DownloadMode:         constants.DefaultDownloadMode,
		SubtitleDownload:     false,
		NotificationsEnabled: true,
		AutoResume:           true,
		DebugThreadSafety:    false,
		HistoryLimit:         constants.DefaultHistoryLimit,
	}
}

// Publisher is the narrow Event Bus dependency the store needs: publish a
// SettingsChanged event after every successful mutation.
type Publisher interface {
	Publish(e events.Event) bool
}

// Store is the process-wide singleton described by the Settings Store
// contract. Construct with Load, which reads the on-disk envelope (or falls
// back to Default if absent) before the store becomes usable.
type Store struct {
	mu       sync.Mutex
	snapshot Snapshot
	extra    map[string]json.RawMessage
	path     string
	bus      Publisher
	log      *zerolog.Logger
}

// Load reads settings.json from dir if present, otherwise starts from
// Default. bus and log may be nil; bus being nil simply skips publication
// (used by tests that construct a Store without a running Event Bus).
func Load(dir string, defaultDownloadDir string, bus Publisher, log *zerolog.Logger) *Store {
	path := filepath.Join(dir, constants.SettingsFile)
	s := &Store{
		snapshot: Default(defaultDownloadDir),
		path:     path,
		bus:      bus,
		log:      log,
	}

	loaded := Default(defaultDownloadDir)
	version, extra, err := persist.Load(path, &loaded)
	if err != nil {
		if log != nil {
			log.Debug().Err(err).Str("path", path).Msg("settings file absent or unreadable, using defaults")
		}
		return s
	}
	_ = version
	s.snapshot = loaded
	s.extra = extra
	return s
}

// Get returns the current value for key, and whether key is recognized.
// Unknown keys return the zero value and false.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

func (s *Store) get(key string) (interface{}, bool) {
	switch key {
	case "download_directory":
		return s.snapshot.DownloadDirectory, true
	case "theme":
		return s.snapshot.Theme, true
	case "download_mode":
		return s.snapshot.DownloadMode, true
	case "subtitle_download":
		return s.snapshot.SubtitleDownload, true
	case "notifications_enabled":
		return s.snapshot.NotificationsEnabled, true
	case "auto_resume":
		return s.snapshot.AutoResume, true
	case "debug_thread_safety":
		return s.snapshot.DebugThreadSafety, true
	case "history_limit":
		return s.snapshot.HistoryLimit, true
	default:
		return nil, false
	}
}

// Snapshot returns a value-type copy of the full settings schema.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Set validates and stores value under key. When the stored value changes it
// persists the snapshot and publishes SettingsChanged with the single changed
// key; setting a key to its current value does neither.
func (s *Store) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(key, value)
}

// set is the unlocked inner mutator; callers already hold s.mu. set_theme
// and set_download_mode call through here instead of the public Set so the
// lock is acquired exactly once per public call.
func (s *Store) set(key string, value interface{}) error {
	switch key {
	case "download_directory":
		v, ok := value.(string)
		if !ok || v == "" {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "download_directory must be a non-empty string")
		}
		if s.snapshot.DownloadDirectory == v {
			return nil
		}
		s.snapshot.DownloadDirectory = v
	case "theme":
		v, ok := value.(string)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "theme must be a string")
		}
		if err := validate.OneOf("settings.Set", v, constants.ThemeValues); err != nil {
			return err
		}
		if s.snapshot.Theme == v {
			return nil
		}
		s.snapshot.Theme = v
	case "download_mode":
		v, ok := value.(string)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "download_mode must be a string")
		}
		if err := validate.OneOf("settings.Set", v, constants.DownloadModeValues); err != nil {
			return err
		}
		if s.snapshot.DownloadMode == v {
			return nil
		}
		s.snapshot.DownloadMode = v
	case "subtitle_download":
		v, ok := value.(bool)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "subtitle_download must be a bool")
		}
		if s.snapshot.SubtitleDownload == v {
			return nil
		}
		s.snapshot.SubtitleDownload = v
	case "notifications_enabled":
		v, ok := value.(bool)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "notifications_enabled must be a bool")
		}
		if s.snapshot.NotificationsEnabled == v {
			return nil
		}
		s.snapshot.NotificationsEnabled = v
	case "auto_resume":
		v, ok := value.(bool)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "auto_resume must be a bool")
		}
		if s.snapshot.AutoResume == v {
			return nil
		}
		s.snapshot.AutoResume = v
	case "debug_thread_safety":
		v, ok := value.(bool)
		if !ok {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "debug_thread_safety must be a bool")
		}
		if s.snapshot.DebugThreadSafety == v {
			return nil
		}
		s.snapshot.DebugThreadSafety = v
	case "history_limit":
		v, ok := value.(int)
		if !ok || v <= 0 {
			return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "history_limit must be a positive int")
		}
		if s.snapshot.HistoryLimit == v {
			return nil
		}
		s.snapshot.HistoryLimit = v
	default:
		return apperr.NewWithMessage("settings.Set", apperr.ErrInvalidSetting, "unknown settings key: "+key)
	}

	s.persistAndPublish([]string{key})
	return nil
}

// GetDownloadDirectory is the documented convenience accessor.
func (s *Store) GetDownloadDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.DownloadDirectory
}

// SetTheme validates t against the theme enum and stores it. Calls through
// the unlocked set so the reentrant call does not deadlock.
func (s *Store) SetTheme(t string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set("theme", t)
}

// SetDownloadMode validates mode against the download-mode enum and stores it.
func (s *Store) SetDownloadMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set("download_mode", mode)
}

// ResetToDefaults restores the schema defaults, persists, and publishes a
// SettingsChanged event naming every key as changed.
func (s *Store) ResetToDefaults(defaultDownloadDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = Default(defaultDownloadDir)
	s.persistAndPublish([]string{
		"download_directory", "theme", "download_mode", "subtitle_download",
		"notifications_enabled", "auto_resume", "debug_thread_safety", "history_limit",
	})
}

// persistAndPublish writes the snapshot to disk and publishes SettingsChanged
// regardless of whether the write succeeded — the open question on
// persistence failure is resolved in favor of reflecting in-memory truth.
func (s *Store) persistAndPublish(changedKeys []string) {
	if err := persist.Save(s.path, s.snapshot, s.extra); err != nil && s.log != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to persist settings, keeping in-memory update")
	}

	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind: events.KindSettingsChanged,
		Payload: events.SettingsChangedPayload{
			ChangedKeys: changedKeys,
			Settings:    s.snapshot,
		},
	})
}
