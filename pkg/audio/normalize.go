package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	mp3 "github.com/hajimehoshi/go-mp3"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrUnsupportedFormat is returned by Normalize when the declared content
// type has no registered decoder. This is an input error: the request should
// be rejected, nothing was mutated.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// ErrEmptyAudio is returned by Normalize when the input contains no bytes or
// decodes to zero samples.
var ErrEmptyAudio = errors.New("audio: empty audio")

// Normalizer converts arbitrary-format audio bytes into a normalized [Clip].
//
// Implementations must be safe for concurrent use.
type Normalizer interface {
	// Normalize decodes r according to contentType, downmixes to mono,
	// resamples to 16 kHz, and materializes a temporary WAV artifact. The
	// caller owns the returned Clip and must Close it on every exit path.
	Normalize(ctx context.Context, r io.Reader, contentType string) (*Clip, error)
}

// Compile-time assertion that Converter satisfies Normalizer.
var _ Normalizer = (*Converter)(nil)

// Converter is the production [Normalizer]. It decodes WAV (16-bit PCM) and
// MP3 input and writes normalized artifacts to a temp directory.
type Converter struct {
	tmpDir string
}

// ConverterOption is a functional option for configuring a Converter.
type ConverterOption func(*Converter)

// WithTempDir sets the directory normalized artifacts are written to.
// Defaults to [os.TempDir].
func WithTempDir(dir string) ConverterOption {
	return func(c *Converter) { c.tmpDir = dir }
}

// NewConverter returns a ready-to-use Converter.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{tmpDir: os.TempDir()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Normalize implements [Normalizer].
func (c *Converter) Normalize(ctx context.Context, r io.Reader, contentType string) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("audio: read input: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	samples, srcFmt, err := decode(data, contentType)
	if err != nil {
		return nil, err
	}

	mono := downmixMono(samples, srcFmt.channels)
	if len(mono) == 0 {
		return nil, ErrEmptyAudio
	}

	normalized, err := resampleTo(mono, srcFmt.sampleRate, TargetSampleRate)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(c.tmpDir, "clip-"+uuid.NewString()+".wav")
	if err := writeWAV(path, normalized, TargetSampleRate); err != nil {
		return nil, err
	}

	return &Clip{
		Path:       path,
		Samples:    normalized,
		SampleRate: TargetSampleRate,
	}, nil
}

// decode dispatches on the declared content type. The subtype match is
// deliberately loose: browsers and mobile clients report the same container
// under several MIME spellings.
func decode(data []byte, contentType string) ([]float32, wavFormat, error) {
	mt := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = parsed
	}
	mt = strings.ToLower(mt)

	switch {
	case strings.Contains(mt, "wav"), mt == "audio/wave":
		return decodeWAV(data)
	case mt == "audio/mpeg", mt == "audio/mp3", strings.HasSuffix(mt, "/mpeg3"):
		return decodeMP3(data)
	case mt == "", mt == "application/octet-stream":
		// No useful declaration; sniff WAV, since that is the dominant
		// upload format.
		if samples, f, err := decodeWAV(data); err == nil {
			return samples, f, nil
		}
		return nil, wavFormat{}, fmt.Errorf("%w: undeclared content type is not WAV", ErrUnsupportedFormat)
	default:
		return nil, wavFormat{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
}

// decodeMP3 decodes an MP3 stream. go-mp3 always emits 16-bit stereo PCM at
// the stream's native sample rate.
func decodeMP3(data []byte) ([]float32, wavFormat, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, wavFormat{}, fmt.Errorf("audio: decode mp3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, wavFormat{}, fmt.Errorf("audio: decode mp3 stream: %w", err)
	}

	f := wavFormat{channels: 2, sampleRate: dec.SampleRate(), bitsPerSam: 16}
	return pcm16ToFloat32(pcm), f, nil
}

// resampleTo converts mono samples from srcRate to dstRate using the soxr
// resampler. A clip already at the target rate passes through untouched.
func resampleTo(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate == dstRate {
		return samples, nil
	}
	if srcRate <= 0 {
		return nil, fmt.Errorf("audio: invalid source sample rate %d", srcRate)
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d Hz -> %d Hz: %w", srcRate, dstRate, err)
	}

	out := make([]float32, len(output))
	for i, s := range output {
		switch {
		case s > 1.0:
			out[i] = 1.0
		case s < -1.0:
			out[i] = -1.0
		default:
			out[i] = float32(s)
		}
	}
	return out, nil
}
