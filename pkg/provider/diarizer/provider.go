// Package diarizer defines the Provider interface for speaker-diarization
// backbones.
//
// A diarization backbone takes a normalized mono waveform and partitions it
// into speaker turns: contiguous spans of speech each attributed to one
// anonymous within-clip speaker label ("0", "1", ...). The backbone knows
// nothing about enrolled identities; mapping anonymous labels to user IDs is
// the orchestrator's job.
//
// Implementations must be safe for concurrent use.
package diarizer

import (
	"context"
	"time"
)

// Turn is one contiguous speech span attributed to a single anonymous
// speaker.
type Turn struct {
	// Label identifies the within-clip speaker ("0", "1", ...). Labels are
	// only meaningful inside the clip they came from.
	Label string

	// Start and End bound the turn relative to the start of the clip.
	// Start < End always holds for turns produced by a Provider.
	Start time.Duration
	End   time.Duration
}

// Provider is the abstraction over any diarization backbone.
type Provider interface {
	// Diarize partitions samples (mono float32 at the provider's SampleRate)
	// into speaker turns, ordered by start time. A clip with no detected
	// speech yields an empty slice and no error.
	//
	// A non-nil error means the backbone itself failed; callers should treat
	// that as fatal for the whole request rather than recovering per turn.
	Diarize(ctx context.Context, samples []float32) ([]Turn, error)

	// SampleRate returns the sample rate the provider expects Diarize input
	// to be in.
	SampleRate() int
}
