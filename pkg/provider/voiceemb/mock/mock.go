// Package mock provides a test double for the voiceemb package interfaces.
//
// Use Provider to inject canned embeddings (or per-call results via EmbedFn)
// and inspect the spans that were submitted for extraction.
package mock

import (
	"context"
	"sync"

	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb"
)

// EmbedCall records a single invocation of Provider.Embed.
type EmbedCall struct {
	// SampleCount is the number of samples passed to Embed.
	SampleCount int
}

// Provider is a mock implementation of voiceemb.Provider.
type Provider struct {
	mu sync.Mutex

	// Embedding is returned by every Embed call when EmbedFn is nil.
	Embedding []float32

	// EmbedErr, if non-nil, is returned as the error from Embed when EmbedFn
	// is nil.
	EmbedErr error

	// EmbedFn, if set, computes the result of each Embed call. The call index
	// starts at 0. Use this to fail only specific calls.
	EmbedFn func(call int, samples []float32) ([]float32, error)

	// Dims is returned by Dimensions. When zero, len(Embedding) is used.
	Dims int

	// Model is returned by ModelID. Defaults to "mock".
	Model string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := len(p.EmbedCalls)
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{SampleCount: len(samples)})
	if p.EmbedFn != nil {
		return p.EmbedFn(call, samples)
	}
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.Embedding, nil
}

// Dimensions returns Dims, or len(Embedding) when Dims is zero.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Dims != 0 {
		return p.Dims
	}
	return len(p.Embedding)
}

// ModelID returns Model, or "mock" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model == "" {
		return "mock"
	}
	return p.Model
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

// Ensure Provider implements voiceemb.Provider at compile time.
var _ voiceemb.Provider = (*Provider)(nil)
