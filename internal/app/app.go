// Package app wires the engine's collaborators together and manages the
// lifecycle of interview sessions for one device identity.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/intervox/internal/agent"
	"github.com/ashureev/intervox/internal/audio"
	"github.com/ashureev/intervox/internal/cache"
	"github.com/ashureev/intervox/internal/config"
	"github.com/ashureev/intervox/internal/domain"
	"github.com/ashureev/intervox/internal/identity"
	"github.com/ashureev/intervox/internal/metrics"
	"github.com/ashureev/intervox/internal/orchestrator"
	"github.com/ashureev/intervox/internal/realtime"
	"github.com/ashureev/intervox/internal/remotestore"
	"github.com/ashureev/intervox/internal/session"
	"github.com/ashureev/intervox/internal/speech"
	"github.com/ashureev/intervox/internal/store"
	"github.com/ashureev/intervox/internal/transcribe"
)

// App owns the shared infrastructure (identity, persisted cache, remote
// clients, change feed) and the set of active interview sessions.
type App struct {
	cfg         *config.Config
	ident       identity.Identity
	repo        store.Repository
	remote      *remotestore.Client
	feed        *realtime.Feed
	collections *cache.Manager
	stats       *metrics.Metrics

	dialogue    *agent.Client
	transcriber *transcribe.Client
	synth       *speech.Client

	device audio.Device
	player speech.Player

	mu        sync.Mutex
	sessions  map[string]*sessionEntry
	stopWatch func()
}

type sessionEntry struct {
	engine   *orchestrator.Engine
	lastUsed time.Time
}

// Option configures an App.
type Option func(*App)

// WithAudioDevice overrides the capture device, mainly for tests.
func WithAudioDevice(device audio.Device) Option {
	return func(a *App) {
		a.device = device
	}
}

// WithPlayer overrides the playback device, mainly for tests.
func WithPlayer(player speech.Player) Option {
	return func(a *App) {
		a.player = player
	}
}

// New assembles the application from its configuration. One client per
// external capability is created here and shared by every session.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	ident, err := identity.Load(filepath.Join(filepath.Dir(cfg.CachePath), "identity"))
	if err != nil {
		return nil, fmt.Errorf("load device identity: %w", err)
	}

	repo, err := store.NewSQLite(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open collection cache: %w", err)
	}

	stats := metrics.New("intervox")
	remote := remotestore.New(cfg.StoreURL)
	feed := realtime.New(cfg.RealtimeURL)

	a := &App{
		cfg:         cfg,
		ident:       ident,
		repo:        repo,
		remote:      remote,
		feed:        feed,
		collections: cache.NewManager(repo, remote, feed, stats),
		stats:       stats,
		dialogue:    agent.NewClient(cfg.AgentURL, agent.WithTimeout(cfg.TurnTimeout)),
		transcriber: transcribe.New(cfg.TranscribeURL,
			transcribe.WithMaxUploadBytes(cfg.MaxUploadBytes),
			transcribe.WithTimeout(cfg.TurnTimeout)),
		synth:       speech.NewClient(cfg.SynthesizeURL),
		sessions:    map[string]*sessionEntry{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.device == nil {
		a.device = audio.NewPortAudioDevice()
	}
	if a.player == nil {
		a.player = speech.NewPortAudioPlayer()
	}

	slog.Info("Application initialized", "user_id", ident.UserID)
	return a, nil
}

// Identity returns the device identity all records are owned by.
func (a *App) Identity() identity.Identity {
	return a.ident
}

// Collections exposes the cached record collections.
func (a *App) Collections() *cache.Manager {
	return a.collections
}

// Metrics exposes the engine metrics for scraping.
func (a *App) Metrics() *metrics.Metrics {
	return a.stats
}

// Watch hydrates the cached collections and subscribes them to the change
// feed for this device's records.
func (a *App) Watch(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopWatch != nil {
		return
	}
	a.stopWatch = a.collections.Watch(ctx, a.ident.UserID)
}

// Session returns the engine for an interview, creating it on first use.
// Repeated calls for the same interview share one engine.
func (a *App) Session(interviewID string, params domain.InterviewParameters) *orchestrator.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.sessions[interviewID]; ok {
		entry.lastUsed = time.Now()
		return entry.engine
	}

	engine := orchestrator.New(
		session.New(),
		audio.NewRecorder(a.device),
		a.transcriber,
		a.dialogue,
		speech.NewManager(a.synth, a.player,
			speech.WithFailureLimit(a.cfg.SynthesisFailureLimit),
			speech.WithCooldown(a.cfg.SynthesisCooldown),
			speech.WithMetrics(a.stats)),
		orchestrator.WithMetrics(a.stats),
		orchestrator.WithCompletionCallback(func(string) {
			a.markCompleted(interviewID)
		}),
	)
	engine.LoadSession(domain.SessionData{
		InterviewID: interviewID,
		UserID:      a.ident.UserID,
		Status:      domain.StatusNotStarted,
		Parameters:  params,
	})

	a.sessions[interviewID] = &sessionEntry{engine: engine, lastUsed: time.Now()}
	slog.Info("Session created", "interview_id", interviewID)
	return engine
}

// CloseSession releases an interview's audio resources and forgets it.
func (a *App) CloseSession(interviewID string) {
	a.mu.Lock()
	entry, ok := a.sessions[interviewID]
	delete(a.sessions, interviewID)
	a.mu.Unlock()

	if ok {
		entry.engine.Close()
		slog.Info("Session closed", "interview_id", interviewID)
	}
}

// markCompleted reflects a finished interview onto the record store: the
// remote record is updated and the cached copy patched optimistically.
func (a *App) markCompleted(interviewID string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.TurnTimeout)
	defer cancel()

	rec, found, err := a.remote.GetInterview(ctx, interviewID)
	if err != nil || !found {
		slog.Warn("Could not load interview record after completion",
			"interview_id", interviewID,
			"found", found,
			"error", err)
		return
	}

	rec.Status = domain.StatusCompleted
	rec.UpdatedAt = time.Now()
	if err := a.remote.UpdateInterview(ctx, rec); err != nil {
		slog.Warn("Could not update interview record after completion",
			"interview_id", interviewID,
			"error", err)
		return
	}
	a.collections.Interviews.Put(ctx, a.ident.UserID, rec)
}

// CreateInterview stores a new interview record remotely and patches the
// cached collection optimistically.
func (a *App) CreateInterview(ctx context.Context, jobID string) (domain.Interview, error) {
	now := time.Now()
	rec := domain.Interview{
		ID:        domain.NewRecordID(),
		UserID:    a.ident.UserID,
		JobID:     jobID,
		Status:    domain.StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.remote.CreateInterview(ctx, rec); err != nil {
		return domain.Interview{}, err
	}
	a.collections.Interviews.Put(ctx, a.ident.UserID, rec)
	return rec, nil
}

// DeleteInterview removes the record remotely, patches the cache and tears
// down any active session for it.
func (a *App) DeleteInterview(ctx context.Context, interviewID string) error {
	if err := a.remote.DeleteInterview(ctx, interviewID); err != nil {
		return err
	}
	a.collections.Interviews.Remove(ctx, a.ident.UserID, interviewID)
	a.CloseSession(interviewID)
	return nil
}

// CreateJob stores a new job record remotely and patches the cached
// collection optimistically.
func (a *App) CreateJob(ctx context.Context, title, description string) (domain.Job, error) {
	now := time.Now()
	rec := domain.Job{
		ID:          domain.NewRecordID(),
		UserID:      a.ident.UserID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.remote.CreateJob(ctx, rec); err != nil {
		return domain.Job{}, err
	}
	a.collections.Jobs.Put(ctx, a.ident.UserID, rec)
	return rec, nil
}

// DeleteJob removes a job record remotely and patches the cache.
func (a *App) DeleteJob(ctx context.Context, jobID string) error {
	if err := a.remote.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	a.collections.Jobs.Remove(ctx, a.ident.UserID, jobID)
	return nil
}

// Close tears down the feed, every active session and the persisted cache.
func (a *App) Close() {
	a.mu.Lock()
	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	entries := make([]*sessionEntry, 0, len(a.sessions))
	for id, entry := range a.sessions {
		entries = append(entries, entry)
		delete(a.sessions, id)
	}
	a.mu.Unlock()

	for _, entry := range entries {
		entry.engine.Close()
	}
	a.feed.Close()
	if err := a.repo.Close(); err != nil {
		slog.Error("Failed to close collection cache", "error", err)
	}
}
