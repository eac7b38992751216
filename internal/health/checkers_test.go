package health

import (
	"context"
	"testing"

	diarizermock "github.com/huddlesync/diarizerd/pkg/provider/diarizer/mock"
	voiceembmock "github.com/huddlesync/diarizerd/pkg/provider/voiceemb/mock"
	speakermock "github.com/huddlesync/diarizerd/pkg/speaker/mock"
)

func TestSpeakerStoreChecker(t *testing.T) {
	ctx := context.Background()

	c := SpeakerStoreChecker(&speakermock.Store{CountValue: 3})
	if c.Name != "speaker_store" {
		t.Errorf("name = %q, want speaker_store", c.Name)
	}
	if err := c.Check(ctx); err != nil {
		t.Errorf("Check on healthy store: %v", err)
	}
}

func TestDiarizerChecker(t *testing.T) {
	ctx := context.Background()

	if err := DiarizerChecker(&diarizermock.Provider{}).Check(ctx); err != nil {
		t.Errorf("Check on healthy diarizer: %v", err)
	}
	if err := DiarizerChecker(nil).Check(ctx); err == nil {
		t.Error("Check on nil diarizer: expected error")
	}
}

func TestEmbedderChecker(t *testing.T) {
	ctx := context.Background()

	if err := EmbedderChecker(&voiceembmock.Provider{}).Check(ctx); err != nil {
		t.Errorf("Check on healthy embedder: %v", err)
	}
	if err := EmbedderChecker(nil).Check(ctx); err == nil {
		t.Error("Check on nil embedder: expected error")
	}
}
