// Package app wires all diarizerd subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSpeakerStore, WithNormalizer, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huddlesync/diarizerd/internal/config"
	"github.com/huddlesync/diarizerd/internal/diarize"
	"github.com/huddlesync/diarizerd/internal/health"
	"github.com/huddlesync/diarizerd/internal/httpapi"
	"github.com/huddlesync/diarizerd/internal/observe"
	"github.com/huddlesync/diarizerd/pkg/audio"
	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb"
	"github.com/huddlesync/diarizerd/pkg/speaker"
	speakerpg "github.com/huddlesync/diarizerd/pkg/speaker/postgres"
)

// shutdownGrace bounds how long the HTTP server may drain in-flight requests
// after the run context is cancelled.
const shutdownGrace = 10 * time.Second

// Providers holds the inference collaborators. Both are required; main.go
// constructs the real implementations from the config, tests inject mocks.
type Providers struct {
	Diarizer diarizer.Provider
	Embedder voiceemb.Provider
}

// App owns all subsystem lifetimes for the diarization service.
type App struct {
	cfg       *config.Config
	providers *Providers

	speakers   speaker.Store
	normalizer audio.Normalizer
	server     *httpapi.Server
	metrics    *observe.Metrics
	logger     *slog.Logger

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSpeakerStore injects a speaker store instead of creating one from config.
func WithSpeakerStore(s speaker.Store) Option {
	return func(a *App) { a.speakers = s }
}

// WithNormalizer injects an audio normalizer instead of creating a Converter.
func WithNormalizer(n audio.Normalizer) Option {
	return func(a *App) { a.normalizer = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles for the
// speaker store or the normalizer.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Diarizer == nil || providers.Embedder == nil {
		return nil, errors.New("app: diarizer and embedder providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSpeakers(ctx); err != nil {
		return nil, fmt.Errorf("app: init speaker store: %w", err)
	}

	if a.normalizer == nil {
		var convOpts []audio.ConverterOption
		if cfg.Audio.TempDir != "" {
			convOpts = append(convOpts, audio.WithTempDir(cfg.Audio.TempDir))
		}
		a.normalizer = audio.NewConverter(convOpts...)
	}

	orchestrator := diarize.New(providers.Diarizer, providers.Embedder, a.speakers,
		diarize.WithDefaultThreshold(cfg.Speakers.DefaultThreshold),
		diarize.WithMetrics(a.metrics),
		diarize.WithLogger(a.logger),
	)

	checks := health.New(
		health.SpeakerStoreChecker(a.speakers),
		health.DiarizerChecker(providers.Diarizer),
		health.EmbedderChecker(providers.Embedder),
	)

	a.server = httpapi.NewServer(orchestrator, a.normalizer, checks,
		httpapi.WithMetrics(a.metrics),
		httpapi.WithLogger(a.logger),
	)

	return a, nil
}

// initSpeakers sets up the enrolled-speaker registry from config unless a
// store was injected.
func (a *App) initSpeakers(ctx context.Context) error {
	if a.speakers != nil {
		return nil
	}

	switch a.cfg.Speakers.Backend {
	case config.BackendPostgres:
		store, err := speakerpg.NewStore(ctx, a.cfg.Speakers.PostgresDSN, a.cfg.Speakers.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.speakers = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		store, err := speaker.NewDirStore(a.cfg.Speakers.Dir)
		if err != nil {
			return err
		}
		a.speakers = store
	}
	return nil
}

// Handler returns the fully-routed HTTP handler. Exposed for tests that drive
// the app through httptest instead of a real listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled, then drains in-flight requests for up to shutdownGrace.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			a.logger.Warn("http drain incomplete", slog.String("error", err.Error()))
		}
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded",
					slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error",
					slog.Int("index", i),
					slog.String("error", err.Error()))
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
