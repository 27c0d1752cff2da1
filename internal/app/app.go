// Package app wires all Jarvis subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the listening loop, the HTTP server, the journal
// recorder and the config watcher in one errgroup, and Shutdown releases
// what New acquired.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithJournal, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/controller"
	"github.com/MrWong99/jarvis/internal/dialog"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/journal"
	"github.com/MrWong99/jarvis/internal/journal/postgres"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/status"
	"github.com/MrWong99/jarvis/internal/transcript"
	"github.com/MrWong99/jarvis/internal/wakeword"
	"github.com/MrWong99/jarvis/pkg/audio"
)

// ErrListenerFaulted wraps the error that ended the listening loop: the
// audio device could not be opened or failed, or the wake-word model kept
// failing. The process should exit with a distinct status.
var ErrListenerFaulted = errors.New("app: listening loop faulted")

const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	hub          *status.Hub
	store        journal.Store
	recorder     *journal.Recorder
	noDetection  error
	conversation *dialog.Conversation
	corrector    *transcript.Corrector
	controller   *controller.Controller
	watcher      *config.Watcher
	configPath   string

	listener net.Listener
	server   *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a transcript store instead of connecting to
// journal.postgres_dsn.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload change the log level of the handler built
// around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigFile watches path and applies hot-reloadable changes while Run
// is active.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; LLM, STT, TTS and Audio are required.
//
// A wake-word model that fails to load does not fail New: the controller
// then reports detection as disabled and the UI stays available. A journal
// that cannot be reached is likewise skipped with a warning.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := checkProviders(providers); err != nil {
		return nil, err
	}

	// ── 1. Status hub ────────────────────────────────────────────────────
	a.hub = status.NewHub(
		status.WithInitialStatus(controller.StatusStarting),
		status.WithHistoryLimit(cfg.Status.HistoryLimit),
		status.WithMetrics(a.metrics),
	)

	// ── 2. Journal ───────────────────────────────────────────────────────
	a.initJournal(ctx)

	// ── 3. Wake word ─────────────────────────────────────────────────────
	outcome := wakeword.Init(ctx, providers.WakeWord, wakeword.Config{
		Target:    cfg.WakeWord.Target,
		Smoothing: cfg.WakeWord.Smoothing,
	})
	var scorer controller.Scorer
	a.noDetection = outcome.Reason()
	if s, ok := outcome.Scorer(); ok {
		scorer = s
		a.closers = append(a.closers, s.Close)
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	tap := audio.NewTap(audio.CaptureFormat, audio.WithStallGrace(cfg.Audio.StallGrace))
	a.corrector = transcript.NewCorrector(cfg.Assistant.Vocabulary)
	a.conversation = dialog.New(providers.LLM, dialog.Config{
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Temperature:  cfg.Assistant.Temperature,
		MaxTokens:    cfg.Assistant.MaxTokens,
		Summarise:    cfg.Assistant.Summarise,
	})
	pipe := pipeline.New(tap, providers.STT, a.conversation,
		pipeline.NewVoice(providers.TTS, providers.Playback),
		pipelineOptions(cfg, a.corrector, a.metrics)...,
	)

	// ── 5. Controller ────────────────────────────────────────────────────
	ctrl, err := controller.New(controller.Config{
		Source:           providers.Audio,
		Tap:              tap,
		Pipeline:         pipe,
		Scorer:           scorer,
		DisabledReason:   outcome.Reason(),
		Status:           a.hub,
		Threshold:        cfg.WakeWord.Threshold,
		MaxScoreFailures: cfg.WakeWord.MaxScoreFailures,
		Greeting:         cfg.Assistant.Greeting,
		UserLabel:        cfg.Assistant.UserLabel,
		AssistantLabel:   cfg.Assistant.Name,
		LogLevels:        cfg.Audio.DebugLevels,
		Metrics:          a.metrics,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.controller = ctrl

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Audio == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

func pipelineOptions(cfg *config.Config, corrector *transcript.Corrector, m *observe.Metrics) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithCaptureDuration(cfg.Turn.CaptureDuration),
		pipeline.WithMinTranscriptChars(cfg.Turn.MinTranscriptChars),
		pipeline.WithCorrector(corrector),
		pipeline.WithMetrics(m),
	}
	for r := pipeline.ReasonNoSpeech; r <= pipeline.ReasonInternal; r++ {
		if text, ok := cfg.Turn.Fallbacks[r.String()]; ok {
			opts = append(opts, pipeline.WithFallback(r, text))
		}
	}
	return opts
}

// initJournal connects the transcript archive, replays recent messages into
// the hub and prepares the recorder.
func (a *App) initJournal(ctx context.Context) {
	if a.store == nil && a.cfg.Journal.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.Journal.PostgresDSN)
		if err != nil {
			slog.Warn("transcript journal unavailable, continuing without it", "err", err)
			return
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if a.store == nil {
		return
	}

	if err := journal.Replay(ctx, a.store, a.hub, a.cfg.Journal.ReplayLimit); err != nil {
		slog.Warn("failed to replay transcript history", "err", err)
	}
	a.recorder = journal.NewRecorder(a.store, a.hub)
	slog.Info("transcript journal enabled", "session_id", a.recorder.SessionID())
}

func (a *App) initServer() error {
	mux := http.NewServeMux()

	var statusOpts []status.ServerOption
	if len(a.cfg.Status.OriginPatterns) > 0 {
		statusOpts = append(statusOpts, status.WithOriginPatterns(a.cfg.Status.OriginPatterns...))
	}
	status.NewServer(a.hub, statusOpts...).Register(mux)
	health.New(a.checkers()...).Register(mux)
	if a.store != nil {
		mux.Handle("GET /api/transcripts", journal.Handler(a.store))
	}
	if !a.cfg.Telemetry.DisableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		{
			Name: "wakeword",
			Check: func(context.Context) error {
				if !a.controller.DetectionEnabled() {
					return fmt.Errorf("detection disabled: %w", a.noDetection)
				}
				return nil
			},
		},
		{
			Name: "controller",
			Check: func(context.Context) error {
				if s := a.controller.State(); s == controller.Faulted {
					return fmt.Errorf("state %s", s)
				}
				return nil
			},
		},
	}
	if a.store != nil {
		checks = append(checks, health.Checker{Name: "journal", Check: a.store.Ping, Optional: true})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Hub returns the status hub.
func (a *App) Hub() *status.Hub { return a.hub }

// Controller returns the activation controller.
func (a *App) Controller() *controller.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening and serving and blocks until ctx is cancelled or a
// component fails. It returns nil after cancellation. A fault of the
// listening loop is returned wrapped in [ErrListenerFaulted].
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		if err := a.controller.Run(gctx); err != nil {
			return fmt.Errorf("%w: %w", ErrListenerFaulted, err)
		}
		return nil
	})
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", a.listener.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable subset of newCfg. Changes that need a
// restart are logged and otherwise ignored.
func (a *App) Reload(oldCfg, newCfg *config.Config) {
	diff := config.Diff(oldCfg, newCfg)
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ThresholdChanged {
		if err := a.controller.SetThreshold(diff.NewThreshold); err != nil {
			slog.Warn("rejected wake word threshold", "err", err)
		}
	}
	if diff.SystemPromptChanged {
		a.conversation.SetSystemPrompt(diff.NewSystemPrompt)
		slog.Info("system prompt updated")
	}
	if diff.VocabularyChanged {
		a.corrector.SetVocabulary(diff.NewVocabulary)
		slog.Info("vocabulary updated", "entries", len(diff.NewVocabulary))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the resources New acquired. Call it after Run returns.
// It respects the context deadline: if ctx expires before all closers
// finish, the remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if err := a.controller.Stop(); err != nil {
			slog.Warn("controller stop error", "err", err)
		}
		_ = a.server.Close()
		_ = a.listener.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// release undoes a partially completed New.
func (a *App) release() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
