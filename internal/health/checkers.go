package health

import (
	"context"
	"errors"

	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb"
	"github.com/huddlesync/diarizerd/pkg/speaker"
)

// SpeakerStoreChecker probes the speaker registry by counting enrolled
// speakers. A store that cannot serve a count cannot serve matches either.
func SpeakerStoreChecker(store speaker.Store) Checker {
	return Checker{
		Name: "speaker_store",
		Check: func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		},
	}
}

// DiarizerChecker verifies the diarization backbone is loaded and reports a
// sane sample rate.
func DiarizerChecker(p diarizer.Provider) Checker {
	return Checker{
		Name: "diarizer",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("diarizer not configured")
			}
			if p.SampleRate() <= 0 {
				return errors.New("diarizer reports invalid sample rate")
			}
			return nil
		},
	}
}

// EmbedderChecker verifies the voice-embedding model is loaded.
func EmbedderChecker(p voiceemb.Provider) Checker {
	return Checker{
		Name: "embedder",
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("embedder not configured")
			}
			if p.ModelID() == "" {
				return errors.New("embedder reports no model")
			}
			return nil
		},
	}
}
