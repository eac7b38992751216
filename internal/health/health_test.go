package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	diarizermock "github.com/huddlesync/diarizerd/pkg/provider/diarizer/mock"
	voiceembmock "github.com/huddlesync/diarizerd/pkg/provider/voiceemb/mock"
	"github.com/huddlesync/diarizerd/pkg/speaker"
	speakermock "github.com/huddlesync/diarizerd/pkg/speaker/mock"
)

// failingStore is a speaker.Store whose registry cannot be reached, the way
// a dir store on a lost mount or a dead database behaves.
type failingStore struct{}

func (failingStore) Enroll(context.Context, string, []float32) error {
	return speaker.ErrStorage
}

func (failingStore) FindMatch(context.Context, []float32, float64) (speaker.Match, bool, error) {
	return speaker.Match{}, false, speaker.ErrStorage
}

func (failingStore) Count(context.Context) (int, error) {
	return 0, errors.New("registry scan failed")
}

// serviceHandler builds the probe handler exactly as the app wires it.
func serviceHandler(store speaker.Store) *Handler {
	return New(
		SpeakerStoreChecker(store),
		DiarizerChecker(&diarizermock.Provider{}),
		EmbedderChecker(&voiceembmock.Provider{}),
	)
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) report {
	t.Helper()
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	// Liveness must pass even when every dependency is down: a live process
	// with a broken registry should be kept, not restarted.
	h := serviceHandler(failingStore{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decodeReport(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyzAllDependenciesReady(t *testing.T) {
	h := serviceHandler(&speakermock.Store{CountValue: 2})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeReport(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"speaker_store", "diarizer", "embedder"} {
		if body.Checks[name] != "ok" {
			t.Errorf("check %s = %q, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyzStoreFailureHoldsTrafficOff(t *testing.T) {
	h := serviceHandler(failingStore{})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeReport(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if got := body.Checks["speaker_store"]; got != "fail: registry scan failed" {
		t.Errorf("speaker_store check = %q, want the scan failure", got)
	}
	// One bad dependency must not mask the healthy ones in the report.
	if body.Checks["diarizer"] != "ok" || body.Checks["embedder"] != "ok" {
		t.Errorf("model checks = %q / %q, want ok", body.Checks["diarizer"], body.Checks["embedder"])
	}
}

func TestReadyzUnloadedModel(t *testing.T) {
	h := New(
		SpeakerStoreChecker(&speakermock.Store{}),
		DiarizerChecker(nil),
		EmbedderChecker(&voiceembmock.Provider{}),
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeReport(t, rec)
	if !strings.HasPrefix(body.Checks["diarizer"], "fail:") {
		t.Errorf("diarizer check = %q, want a failure", body.Checks["diarizer"])
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeReport(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestRegisterProbeRoutes(t *testing.T) {
	h := serviceHandler(&speakermock.Store{})

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("GET %s: status = %d, want 200", path, rec.Code)
			}

			req = httptest.NewRequest("POST", path, nil)
			rec = httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("POST %s: status = %d, want 405", path, rec.Code)
			}
		})
	}
}

func TestReadyzRespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow_model_load", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
