package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/huddlesync/diarizerd/internal/config"
	"github.com/huddlesync/diarizerd/internal/observe"
	"github.com/huddlesync/diarizerd/pkg/audio"
	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
	diarizermock "github.com/huddlesync/diarizerd/pkg/provider/diarizer/mock"
	voiceembmock "github.com/huddlesync/diarizerd/pkg/provider/voiceemb/mock"
	speakermock "github.com/huddlesync/diarizerd/pkg/speaker/mock"
)

type stubNormalizer struct{}

func (stubNormalizer) Normalize(_ context.Context, r io.Reader, _ string) (*audio.Clip, error) {
	io.Copy(io.Discard, r)
	return &audio.Clip{
		Samples:    make([]float32, audio.TargetSampleRate),
		SampleRate: audio.TargetSampleRate,
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Speakers: config.SpeakersConfig{
			Backend: config.BackendDir,
			Dir:     t.TempDir(),
		},
		Audio: config.AudioConfig{TempDir: t.TempDir()},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testProviders() *Providers {
	return &Providers{
		Diarizer: &diarizermock.Provider{},
		Embedder: &voiceembmock.Provider{Embedding: []float32{1, 0, 0}},
	}
}

func TestNewRequiresProviders(t *testing.T) {
	cfg := testConfig(t)

	for _, tc := range []struct {
		name      string
		providers *Providers
	}{
		{"nil struct", nil},
		{"nil diarizer", &Providers{Embedder: &voiceembmock.Provider{}}},
		{"nil embedder", &Providers{Diarizer: &diarizermock.Provider{}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(context.Background(), cfg, tc.providers); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestNewCreatesDirStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testProviders(),
		WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.speakers == nil {
		t.Fatal("speaker store was not created")
	}
	if n, err := a.speakers.Count(context.Background()); err != nil || n != 0 {
		t.Errorf("Count = %d, %v; want 0, nil", n, err)
	}
}

func TestNewRejectsBadPostgresConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speakers.Backend = config.BackendPostgres
	cfg.Speakers.PostgresDSN = "://not-a-dsn"
	cfg.Speakers.EmbeddingDimensions = 256

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg, testProviders(), WithMetrics(testMetrics(t))); err == nil {
		t.Error("New succeeded with malformed DSN, want error")
	}
}

func TestHandlerServesEndToEnd(t *testing.T) {
	providers := testProviders()
	backbone := providers.Diarizer.(*diarizermock.Provider)
	backbone.Turns = []diarizer.Turn{
		{Label: "speaker_0", Start: 0, End: 400 * time.Millisecond},
	}
	store := &speakermock.Store{}

	a, err := New(context.Background(), testConfig(t), providers,
		WithSpeakerStore(store),
		WithNormalizer(stubNormalizer{}),
		WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("audio", "clip.wav")
	part.Write([]byte("payload"))
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/diarize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Segments []struct {
			SpeakerLabel string `json:"speaker_label"`
			EndMS        int64  `json:"end_ms"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Segments) != 1 || resp.Segments[0].SpeakerLabel != "speaker_0" || resp.Segments[0].EndMS != 400 {
		t.Errorf("segments = %+v, want one speaker_0 segment ending at 400 ms", resp.Segments)
	}
	if len(store.FindMatchCalls) != 1 {
		t.Errorf("got %d FindMatch calls, want 1", len(store.FindMatchCalls))
	}
}

func TestHandlerHealthRoutes(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testProviders(),
		WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testProviders(),
		WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	closed := 0
	a, err := New(context.Background(), testConfig(t), testProviders(),
		WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.closers = append(a.closers, func() error {
		closed++
		return errors.New("closer failure is logged, not fatal")
	})

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if closed != 1 {
		t.Errorf("closer ran %d times, want 1", closed)
	}
}
