package main

import (
	"context"
	"path/filepath"

	"kingo/internal/app"
	"kingo/internal/callback"
	"kingo/internal/constants"
	"kingo/internal/download"
	"kingo/internal/eventbus"
	"kingo/internal/events"
	"kingo/internal/logger"
	"kingo/internal/media"
	"kingo/internal/model"
	"kingo/internal/notify"
	"kingo/internal/pool"
	"kingo/internal/queue"
	"kingo/internal/ratelimit"
	"kingo/internal/search"
	"kingo/internal/settings"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v3/pkg/application"
)

// Version is set at build time via ldflags.
var Version string

// App is the Facade exposed to the frontend. It wires the seven core
// components (Settings Store, Safe Callback Registry, Thread-Pool Registry,
// Event Bus, Queue Store, Download Service, Error Taxonomy) together with
// their domain-stack collaborators, and binds the whole runtime to the Wails
// service lifecycle.
type App struct {
	ctx context.Context

	paths *app.Paths
	log   *zerolog.Logger

	bus       *eventbus.Bus
	settings  *settings.Store
	pools     *pool.Registry
	queue     *queue.Store
	callbacks *callback.Registry
	downloads *download.Service

	fetcher       *media.YtDlpFetcher
	searchBackend *search.HTTPBackend
	notifier      *notify.ToastDelivery
	limiter       *ratelimit.HostLimiter

	pendingPath string
	historyPath string
}

// NewApp constructs an App with no live resources; ServiceStartup does the
// actual wiring once the Wails lifecycle provides a context.
func NewApp() *App {
	return &App{}
}

// ServiceStartup is called once by Wails before the window opens. It is the
// single place every core component and domain collaborator is constructed
// and wired to the others.
func (a *App) ServiceStartup(ctx context.Context, options application.ServiceOptions) error {
	a.ctx = ctx

	paths, err := app.GetPaths()
	if err != nil {
		return err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}
	a.paths = paths

	if err := logger.Init(paths.AppData); err != nil {
		return err
	}
	a.log = &logger.Log

	a.pendingPath = filepath.Join(paths.AppData, constants.PendingDownloadsFile)
	a.historyPath = filepath.Join(paths.AppData, constants.HistoryFile)

	a.bus = eventbus.New(a.log)
	a.wireNotifications()
	a.wireQueuePersistence()

	a.queue = queue.New(a.bus)
	if tasks, err := queue.LoadPending(a.pendingPath); err != nil {
		a.log.Debug().Err(err).Msg("no pending downloads to resume")
	} else {
		for _, t := range tasks {
			a.queue.RestoreTask(t)
		}
	}

	a.settings = settings.Load(paths.AppData, paths.Downloads, a.bus, a.log)
	a.pools = pool.NewRegistry(a.log)

	strictThreadSafety, _ := a.settings.Get("debug_thread_safety")
	strict, _ := strictThreadSafety.(bool)
	a.callbacks = callback.NewRegistry(a.bus.Thread(), strict, a.log)

	a.limiter = ratelimit.NewHostLimiter(constants.RateLimitBurst, constants.RateLimitPerSecond)
	a.fetcher = media.NewYtDlpFetcher(paths.YtDlpPath(), paths.FFmpegPath(), a.log)
	a.searchBackend = search.NewHTTPBackend(constants.SearchBackendBaseURL, a.limiter, a.log)
	a.notifier = notify.NewToastDelivery(constants.AppID, "", a.log)

	a.downloads = download.New(a.queue, a.pools, a.bus, a.fetcher, a.settings, a.historyPath, a.log)

	a.bus.Start(func(e events.Event) {
		application.Get().Event.Emit(string(e.Kind), e.Payload)
	})

	a.scheduleStatsLog()

	if autoResume, ok := a.settings.Get("auto_resume"); ok {
		if resume, _ := autoResume.(bool); resume {
			started := a.downloads.StartAllQueued()
			a.log.Info().Int("started", started).Msg("resumed queued downloads on startup")
		}
	}

	a.log.Info().Str("version", Version).Str("downloadsDir", paths.Downloads).Msg("kingo starting up")
	return nil
}

// ServiceShutdown tears the runtime down in the reverse order it was built:
// stop accepting new work, let in-flight workers observe cancellation,
// persist the final queue snapshot, then stop the consumer thread.
func (a *App) ServiceShutdown() error {
	if a.downloads != nil {
		a.downloads.StopAll()
	}
	if a.pools != nil {
		a.pools.Shutdown(constants.DefaultShutdownTimeout)
	}
	if a.queue != nil {
		if err := a.queue.SnapshotPending(a.pendingPath); err != nil && a.log != nil {
			a.log.Error().Err(err).Msg("failed to snapshot pending downloads on shutdown")
		}
	}
	if a.callbacks != nil {
		a.callbacks.CleanupCallbacks()
	}
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.log != nil {
		a.log.Info().Msg("application shutdown complete")
	}
	return nil
}

// wireNotifications subscribes the toast collaborator to terminal download
// events. It runs once, during startup, and stays live for the process.
func (a *App) wireNotifications() {
	a.bus.Subscribe(events.KindDownloadComplete, func(e events.Event) {
		if !a.notificationsEnabled() {
			return
		}
		p, ok := e.Payload.(events.DownloadCompletePayload)
		if !ok {
			return
		}
		a.notifier.Notify("Download complete", p.FilePath)
	})
	a.bus.Subscribe(events.KindDownloadFailed, func(e events.Event) {
		if !a.notificationsEnabled() {
			return
		}
		p, ok := e.Payload.(events.DownloadFailedPayload)
		if !ok {
			return
		}
		a.notifier.Notify("Download failed", p.Error)
	})
}

// wireQueuePersistence snapshots the resumable subset of the queue to disk
// every time it changes, so a crash loses at most the interval between two
// QueueUpdated events rather than the whole session.
func (a *App) wireQueuePersistence() {
	a.bus.Subscribe(events.KindQueueUpdated, func(e events.Event) {
		if err := a.queue.SnapshotPending(a.pendingPath); err != nil {
			a.log.Error().Err(err).Msg("failed to snapshot pending downloads")
		}
	})
}

func (a *App) notificationsEnabled() bool {
	v, ok := a.settings.Get("notifications_enabled")
	if !ok {
		return false
	}
	enabled, _ := v.(bool)
	return enabled
}

// scheduleStatsLog reschedules itself every StatsLogInterval, demonstrating
// the Safe Callback Registry's deferred-work pattern outside a UI context:
// periodic diagnostics are exactly the kind of consumer-thread work a
// subscriber might defer, and must be cancelled cleanly on shutdown.
func (a *App) scheduleStatsLog() {
	a.callbacks.ScheduleAfter(constants.StatsLogInterval, a.logStats)
}

func (a *App) logStats() {
	a.log.Info().
		Int("active_downloads", a.downloads.ActiveCount()).
		Int("queued_tasks", len(a.queue.ByStatus(model.StatusQueued))).
		Msg("periodic stats")
	a.scheduleStatsLog()
}

// --- Frontend-facing API ---

// AddToQueue resolves url via the MediaFetcher and admits it to the Queue Store.
func (a *App) AddToQueue(url string) (model.DownloadTask, error) {
	descriptor, err := a.fetcher.Describe(a.ctx, url)
	if err != nil {
		return model.DownloadTask{}, err
	}
	if v, ok := a.settings.Get("subtitle_download"); ok {
		if wantSubs, ok := v.(bool); ok {
			descriptor.DownloadSubtitles = wantSubs
		}
	}
	return a.queue.Add(descriptor, a.settings.GetDownloadDirectory())
}

// RemoveFromQueue removes a task regardless of its status.
func (a *App) RemoveFromQueue(id string) bool {
	return a.queue.Remove(id)
}

// GetQueue returns every known task.
func (a *App) GetQueue() []model.DownloadTask {
	return a.queue.All()
}

// ClearQueue removes every task from the Queue Store.
func (a *App) ClearQueue() {
	a.queue.Clear()
}

// StartDownload submits id's worker to the download pool.
func (a *App) StartDownload(id string) (bool, error) {
	return a.downloads.Start(id)
}

// StopDownload cancels id's in-flight worker, if any.
func (a *App) StopDownload(id string) bool {
	return a.downloads.Stop(id)
}

// StartAllQueued starts every currently Queued task.
func (a *App) StartAllQueued() int {
	return a.downloads.StartAllQueued()
}

// StopAllDownloads cancels every in-flight worker.
func (a *App) StopAllDownloads() {
	a.downloads.StopAll()
}

// Search submits a catalog query to the search pool; results arrive
// asynchronously via the SearchComplete/SearchFailed events.
func (a *App) Search(query string, platform string, maxResults int) error {
	searchPool, err := a.pools.SearchPool()
	if err != nil {
		return err
	}
	filters := search.Filters{Platform: platform, MaxResults: maxResults}
	_, _, err = searchPool.Submit(func(token *pool.CancelToken) error {
		return a.runSearch(query, filters)
	})
	return err
}

func (a *App) runSearch(query string, filters search.Filters) error {
	hits, err := a.searchBackend.Search(a.ctx, query, filters)
	if err != nil {
		a.bus.Publish(events.Event{
			Kind: events.KindSearchFailed,
			Payload: events.SearchFailedPayload{
				Query: query,
				Error: err.Error(),
			},
		})
		return err
	}
	a.bus.Publish(events.Event{
		Kind: events.KindSearchComplete,
		Payload: events.SearchCompletePayload{
			Query:       query,
			Results:     hits,
			ResultCount: len(hits),
		},
	})
	return nil
}

// GetSettings returns the current settings snapshot.
func (a *App) GetSettings() settings.Snapshot {
	return a.settings.Snapshot()
}

// SetSetting validates and stores a single settings key.
func (a *App) SetSetting(key string, value interface{}) error {
	return a.settings.Set(key, value)
}

// ResetSettings restores every settings key to its schema default.
func (a *App) ResetSettings() {
	a.settings.ResetToDefaults(a.paths.Downloads)
}

// OpenDownloadsFolder opens the configured download directory in the OS file
// browser.
func (a *App) OpenDownloadsFolder() {
	application.Get().Browser.OpenURL("file://" + a.settings.GetDownloadDirectory())
}

// GetVersion returns the running build's version string.
func (a *App) GetVersion() string {
	return Version
}
