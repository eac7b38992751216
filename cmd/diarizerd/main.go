// Command diarizerd is the speaker-diarization HTTP service: it splits
// uploaded audio into speaker turns and labels each turn with an enrolled
// user identity where one matches.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/huddlesync/diarizerd/internal/app"
	"github.com/huddlesync/diarizerd/internal/config"
	"github.com/huddlesync/diarizerd/internal/observe"
	"github.com/huddlesync/diarizerd/pkg/provider/diarizer/sherpa"
	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb/wespeaker"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "diarizerd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "diarizerd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("diarizerd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"speaker_backend", cfg.Speakers.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "diarizerd",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	providers, closeProviders, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build inference providers", "err", err)
		return 1
	}
	defer closeProviders()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders loads both inference models. The returned cleanup function
// releases the native handles and is safe to call after a partial failure.
func buildProviders(cfg *config.Config) (*app.Providers, func(), error) {
	backbone, err := sherpa.New(
		cfg.Models.SegmentationModel,
		cfg.Models.DiarizationEmbeddingModel,
		sherpaOptions(cfg)...,
	)
	if err != nil {
		return nil, func() {}, fmt.Errorf("diarization backbone: %w", err)
	}

	embedder, err := wespeaker.New(cfg.Models.VoiceEmbeddingModel)
	if err != nil {
		backbone.Close()
		return nil, func() {}, fmt.Errorf("voice embedding model: %w", err)
	}

	slog.Info("inference providers ready",
		"backbone_sample_rate", backbone.SampleRate(),
		"embedding_model", embedder.ModelID(),
		"embedding_dimensions", embedder.Dimensions(),
	)

	cleanup := func() {
		if err := embedder.Close(); err != nil {
			slog.Warn("embedder close error", "err", err)
		}
		if err := backbone.Close(); err != nil {
			slog.Warn("backbone close error", "err", err)
		}
	}
	return &app.Providers{Diarizer: backbone, Embedder: embedder}, cleanup, nil
}

// sherpaOptions translates the models config into backbone options, leaving
// zero values to the provider defaults.
func sherpaOptions(cfg *config.Config) []sherpa.Option {
	var opts []sherpa.Option
	if cfg.Models.NumThreads > 0 {
		opts = append(opts, sherpa.WithNumThreads(cfg.Models.NumThreads))
	}
	if cfg.Models.ONNXProvider != "" {
		opts = append(opts, sherpa.WithONNXProvider(string(cfg.Models.ONNXProvider)))
	}
	if cfg.Models.ClusteringThreshold > 0 {
		opts = append(opts, sherpa.WithClusteringThreshold(cfg.Models.ClusteringThreshold))
	}
	if cfg.Models.MinDurationOn > 0 {
		opts = append(opts, sherpa.WithMinDurationOn(cfg.Models.MinDurationOn))
	}
	if cfg.Models.MinDurationOff > 0 {
		opts = append(opts, sherpa.WithMinDurationOff(cfg.Models.MinDurationOff))
	}
	return opts
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
