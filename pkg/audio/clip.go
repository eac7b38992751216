// Package audio provides the waveform-normalization collaborator: it turns
// arbitrary uploaded audio bytes into a normalized mono 16 kHz clip that the
// diarization backbone and embedding extractor consume.
//
// The central type is [Clip]: decoded float32 samples in memory plus a
// temporary WAV artifact on disk. Clips own their artifact; callers must
// Close every Clip on every exit path, including error paths.
package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// TargetSampleRate is the sample rate every normalized clip is converted to.
// Both inference models operate on mono 16 kHz input.
const TargetSampleRate = 16000

// Clip is a normalized waveform: mono float32 samples in [-1, 1] at
// [TargetSampleRate], plus a temporary WAV artifact referenceable by path.
type Clip struct {
	// Path is the location of the normalized WAV artifact on disk. The
	// artifact is removed by Close.
	Path string

	// Samples holds the normalized mono samples.
	Samples []float32

	// SampleRate is the sample rate of Samples. Always [TargetSampleRate]
	// for clips produced by [Converter].
	SampleRate int

	closeOnce sync.Once
	closeErr  error
}

// Duration returns the clip length as a [time.Duration].
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Window returns the samples covering [start, end). It fails on malformed
// windows (start < 0, start >= end) and on windows that lie outside the clip;
// a window extending past the end is clamped to the clip boundary.
func (c *Clip) Window(start, end time.Duration) ([]float32, error) {
	if start < 0 || start >= end {
		return nil, fmt.Errorf("audio: malformed window [%v, %v)", start, end)
	}

	from := int(start * time.Duration(c.SampleRate) / time.Second)
	to := int(end * time.Duration(c.SampleRate) / time.Second)
	if from >= len(c.Samples) {
		return nil, fmt.Errorf("audio: window [%v, %v) starts beyond clip end %v", start, end, c.Duration())
	}
	if to > len(c.Samples) {
		to = len(c.Samples)
	}
	return c.Samples[from:to], nil
}

// Close removes the temporary artifact. Safe to call more than once; later
// calls return the first result.
func (c *Clip) Close() error {
	c.closeOnce.Do(func() {
		if c.Path == "" {
			return
		}
		if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
			c.closeErr = fmt.Errorf("audio: remove artifact %q: %w", c.Path, err)
		}
	})
	return c.closeErr
}
