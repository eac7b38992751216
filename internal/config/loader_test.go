package config_test

import (
	"strings"
	"testing"

	"github.com/huddlesync/diarizerd/internal/config"
)

// validYAML is a minimal complete configuration used as the baseline in
// loader tests.
const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
models:
  segmentation_model: /models/segmentation.onnx
  diarization_embedding_model: /models/diar-embedding.onnx
  voice_embedding_model: /models/wespeaker.onnx
speakers:
  backend: dir
  dir: /var/lib/diarizerd/speakers
  default_threshold: 0.65
`

func TestLoadFromReader_ValidConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Speakers.DefaultThreshold != 0.65 {
		t.Errorf("default_threshold = %v, want 0.65", cfg.Speakers.DefaultThreshold)
	}
	if cfg.Speakers.Backend != config.BackendDir {
		t.Errorf("backend = %q, want dir", cfg.Speakers.Backend)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := validYAML + `
unknown_section:
  foo: bar
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingModels(t *testing.T) {
	t.Parallel()
	yaml := `
speakers:
  backend: dir
  dir: /tmp/speakers
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing model paths, got nil")
	}
	for _, want := range []string{
		"models.segmentation_model",
		"models.diarization_embedding_model",
		"models.voice_embedding_model",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "log_level: info", "log_level: verbose", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "server.log_level") {
		t.Errorf("error should mention server.log_level, got: %v", err)
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "backend: dir", "backend: redis", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid backend, got nil")
	}
	if !strings.Contains(err.Error(), "speakers.backend") {
		t.Errorf("error should mention speakers.backend, got: %v", err)
	}
}

func TestValidate_DirBackendRequiresDir(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(validYAML, "  dir: /var/lib/diarizerd/speakers\n", "", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for dir backend without dir, got nil")
	}
	if !strings.Contains(err.Error(), "speakers.dir") {
		t.Errorf("error should mention speakers.dir, got: %v", err)
	}
}

func TestValidate_PostgresBackendRequirements(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  segmentation_model: /models/segmentation.onnx
  diarization_embedding_model: /models/diar-embedding.onnx
  voice_embedding_model: /models/wespeaker.onnx
speakers:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "speakers.postgres_dsn") {
		t.Errorf("error should mention speakers.postgres_dsn, got: %v", err)
	}
	if !strings.Contains(err.Error(), "speakers.embedding_dimensions") {
		t.Errorf("error should mention speakers.embedding_dimensions, got: %v", err)
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	// Negative thresholds would make every enrolled speaker match every
	// turn, so they are rejected along with values above 1.
	for _, bad := range []string{"1.5", "-0.25", "-1"} {
		yaml := strings.Replace(validYAML, "default_threshold: 0.65", "default_threshold: "+bad, 1)
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		if err == nil {
			t.Fatalf("threshold %s: expected error, got nil", bad)
		}
		if !strings.Contains(err.Error(), "out of range [0, 1]") {
			t.Errorf("threshold %s: error should state the [0, 1] range, got: %v", bad, err)
		}
	}
}

func TestValidate_ClusteringThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validYAML,
		"  voice_embedding_model: /models/wespeaker.onnx",
		"  voice_embedding_model: /models/wespeaker.onnx\n  clustering_threshold: 2.0", 1)
	_, err := config.LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected error for out-of-range clustering threshold, got nil")
	}
	if !strings.Contains(err.Error(), "models.clustering_threshold") {
		t.Errorf("error should mention models.clustering_threshold, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
speakers:
  backend: dir
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "server.log_level") {
		t.Errorf("error should mention server.log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "speakers.dir") {
		t.Errorf("error should mention speakers.dir, got: %v", err)
	}
	if !strings.Contains(errStr, "models.segmentation_model") {
		t.Errorf("error should mention models.segmentation_model, got: %v", err)
	}
}
