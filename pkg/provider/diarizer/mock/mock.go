// Package mock provides a test double for the diarizer package interfaces.
//
// Use Provider to inject canned turn lists and inspect the samples that were
// submitted for diarization.
package mock

import (
	"context"
	"sync"

	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
)

// DiarizeCall records a single invocation of Provider.Diarize.
type DiarizeCall struct {
	// SampleCount is the number of samples passed to Diarize.
	SampleCount int
}

// Provider is a mock implementation of diarizer.Provider.
type Provider struct {
	mu sync.Mutex

	// Turns is returned by every Diarize call.
	Turns []diarizer.Turn

	// DiarizeErr, if non-nil, is returned as the error from Diarize.
	DiarizeErr error

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// DiarizeCalls records every call to Diarize in order.
	DiarizeCalls []DiarizeCall
}

// Diarize records the call and returns Turns, DiarizeErr.
func (p *Provider) Diarize(ctx context.Context, samples []float32) ([]diarizer.Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DiarizeCalls = append(p.DiarizeCalls, DiarizeCall{SampleCount: len(samples)})
	if p.DiarizeErr != nil {
		return nil, p.DiarizeErr
	}
	return p.Turns, nil
}

// SampleRate returns Rate, or 16000 when Rate is zero.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DiarizeCalls = nil
}

// Ensure Provider implements diarizer.Provider at compile time.
var _ diarizer.Provider = (*Provider)(nil)
