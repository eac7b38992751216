package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Models
	if cfg.Models.SegmentationModel == "" {
		errs = append(errs, errors.New("models.segmentation_model is required"))
	}
	if cfg.Models.DiarizationEmbeddingModel == "" {
		errs = append(errs, errors.New("models.diarization_embedding_model is required"))
	}
	if cfg.Models.VoiceEmbeddingModel == "" {
		errs = append(errs, errors.New("models.voice_embedding_model is required"))
	}
	if cfg.Models.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("models.num_threads %d must not be negative", cfg.Models.NumThreads))
	}
	if cfg.Models.ONNXProvider != "" && !cfg.Models.ONNXProvider.IsValid() {
		errs = append(errs, fmt.Errorf("models.onnx_provider %q is invalid; valid values: auto, cpu, cuda, coreml", cfg.Models.ONNXProvider))
	}
	if t := cfg.Models.ClusteringThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("models.clustering_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Models.MinDurationOn < 0 {
		errs = append(errs, fmt.Errorf("models.min_duration_on %.2f must not be negative", cfg.Models.MinDurationOn))
	}
	if cfg.Models.MinDurationOff < 0 {
		errs = append(errs, fmt.Errorf("models.min_duration_off %.2f must not be negative", cfg.Models.MinDurationOff))
	}

	// Speakers
	backend := cfg.Speakers.Backend
	if backend != "" && !backend.IsValid() {
		errs = append(errs, fmt.Errorf("speakers.backend %q is invalid; valid values: dir, postgres", backend))
	}
	if backend == BackendDir && cfg.Speakers.Dir == "" {
		errs = append(errs, errors.New("speakers.dir is required when speakers.backend is dir"))
	}
	if backend == BackendPostgres {
		if cfg.Speakers.PostgresDSN == "" {
			errs = append(errs, errors.New("speakers.postgres_dsn is required when speakers.backend is postgres"))
		}
		if cfg.Speakers.EmbeddingDimensions <= 0 {
			errs = append(errs, errors.New("speakers.embedding_dimensions is required when speakers.backend is postgres"))
		}
	}
	// Same range the API enforces for per-request overrides.
	if t := cfg.Speakers.DefaultThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("speakers.default_threshold %.2f is out of range [0, 1]", t))
	}

	return errors.Join(errs...)
}
