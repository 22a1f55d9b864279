package settings

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"kingo/internal/events"
)

type fakeBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (f *fakeBus) Publish(e events.Event) bool {
	f.mu.Lock()
	f.published = append(f.published, e)
	f.mu.Unlock()
	return true
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeBus) last() events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func TestLoadFallsBackToDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s := Load(dir, "/downloads", nil, nil)
	snap := s.Snapshot()
	if snap.Theme != "dark" || snap.DownloadMode != "sequential" {
		t.Fatalf("unexpected default snapshot: %+v", snap)
	}
}

func TestSetThemeRejectsUnknownValue(t *testing.T) {
	s := Load(t.TempDir(), "/downloads", nil, nil)
	if err := s.SetTheme("neon"); err == nil {
		t.Fatal("expected error for unknown theme value")
	}
}

func TestSetThemePersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	s := Load(dir, "/downloads", bus, nil)

	if err := s.SetTheme("light"); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if bus.count() != 1 {
		t.Fatalf("published %d events, want 1", bus.count())
	}
	payload := bus.last().Payload.(events.SettingsChangedPayload)
	if len(payload.ChangedKeys) != 1 || payload.ChangedKeys[0] != "theme" {
		t.Fatalf("unexpected changed keys: %v", payload.ChangedKeys)
	}

	reloaded := Load(dir, "/downloads", nil, nil)
	if reloaded.Snapshot().Theme != "light" {
		t.Fatalf("theme did not persist across reload")
	}
}

func TestSetDownloadModeRejectsUnknownValue(t *testing.T) {
	s := Load(t.TempDir(), "/downloads", nil, nil)
	if err := s.SetDownloadMode("parallel"); err == nil {
		t.Fatal("expected error for unknown download_mode value")
	}
}

func TestSetNoOpWhenValueUnchanged(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	s := Load(dir, "/downloads", bus, nil)

	if err := s.SetTheme("dark"); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if bus.count() != 0 {
		t.Fatalf("setting to the already-current value should not publish; got %d events", bus.count())
	}
}

func TestResetToDefaultsPublishesAllKeys(t *testing.T) {
	bus := &fakeBus{}
	s := Load(t.TempDir(), "/downloads", bus, nil)
	s.SetTheme("light")

	s.ResetToDefaults("/downloads")
	if s.Snapshot().Theme != "dark" {
		t.Fatal("reset did not restore default theme")
	}
	payload := bus.last().Payload.(events.SettingsChangedPayload)
	if len(payload.ChangedKeys) != 8 {
		t.Fatalf("reset should report all 8 schema keys changed, got %d", len(payload.ChangedKeys))
	}
}

func TestUnknownTopLevelFieldsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	// Simulate a newer writer that persisted a field this version doesn't know.
	writeRaw(t, path, `{"version":2,"theme":"dark","download_mode":"sequential","download_directory":"/d","history_limit":500,"future_field":{"nested":true}}`)

	s := Load(dir, "/d", nil, nil)
	s.SetTheme("light")

	data := readRaw(t, path)
	if !strings.Contains(data, `"future_field"`) {
		t.Fatalf("unknown field was dropped on round-trip: %s", data)
	}
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readRaw(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
