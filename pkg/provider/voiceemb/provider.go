// Package voiceemb defines the Provider interface for voice-embedding
// extractors.
//
// An embedding extractor maps a span of speech onto a fixed-dimensional
// vector whose cosine geometry encodes speaker identity: vectors of the same
// speaker land close together, vectors of different speakers land far apart.
// The orchestrator compares these vectors against the enrolled-speaker
// registry.
//
// Implementations must be safe for concurrent use.
package voiceemb

import "context"

// Provider is the abstraction over any voice-embedding backend.
type Provider interface {
	// Embed extracts an identity embedding from samples (mono float32 at
	// 16 kHz). The returned vector has Dimensions() elements.
	//
	// Errors are per-call: a failed extraction says nothing about whether the
	// next call will succeed, so callers may recover per span.
	Embed(ctx context.Context, samples []float32) ([]float32, error)

	// Dimensions returns the length of vectors produced by Embed.
	Dimensions() int

	// ModelID identifies the loaded model. Embeddings from different model
	// IDs are not comparable.
	ModelID() string
}
