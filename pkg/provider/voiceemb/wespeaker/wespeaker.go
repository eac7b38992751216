// This file contains the Provider implementation backed by the ONNX Runtime
// CGO bindings. The onnxruntime shared library must be available at runtime;
// its location can be pinned via ONNXRUNTIME_SHARED_LIBRARY_PATH.

// Package wespeaker implements voiceemb.Provider using a WeSpeaker speaker
// identification model executed through ONNX Runtime. The waveform is
// converted to an 80-bin log-mel spectrogram, fed through the model as a
// [1, frames, 80] tensor, and the resulting vector is L2-normalized so that
// dot products equal cosine similarities.
package wespeaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb"
)

// Compile-time assertion that Provider satisfies voiceemb.Provider.
var _ voiceemb.Provider = (*Provider)(nil)

// Feature-extraction parameters for WeSpeaker models: 80 mel bins over 25 ms
// windows with a 10 ms hop at 16 kHz.
const (
	sampleRate = 16000
	numMels    = 80
	hopLength  = 160
	winLength  = 400
	fftSize    = 512

	// minSamples is the shortest span the model produces a stable embedding
	// for (100 ms). Shorter spans fail extraction.
	minSamples = sampleRate / 10
)

// ErrSpanTooShort is returned by Embed when the input span is shorter than
// the model can embed.
var ErrSpanTooShort = errors.New("wespeaker: span too short to embed")

// ONNX Runtime environment initialization is global and must happen exactly
// once per process.
var (
	ortInitMu   sync.Mutex
	ortInitDone bool
)

func initRuntime() error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ortInitDone {
		return nil
	}

	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		for _, candidate := range []string{
			"./libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.dylib",
		} {
			if _, err := os.Stat(candidate); err == nil {
				libPath = candidate
				break
			}
		}
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("wespeaker: initialize onnxruntime: %w", err)
	}
	ortInitDone = true
	return nil
}

// Provider implements voiceemb.Provider. The model session is loaded once at
// startup; Run calls are serialized because DynamicAdvancedSession is not
// reentrant.
type Provider struct {
	mu       sync.Mutex
	session  *ort.DynamicAdvancedSession
	frontend *melFrontend
	dims     int
	modelID  string
	logger   *slog.Logger

	inputNames  []string
	outputNames []string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Provider that loads a WeSpeaker ONNX model from modelPath.
// The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("wespeaker: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("wespeaker: model %q: %w", modelPath, err)
	}
	if err := initRuntime(); err != nil {
		return nil, err
	}

	p := &Provider{
		frontend: newMelFrontend(sampleRate, numMels, hopLength, winLength, fftSize),
		modelID:  filepath.Base(modelPath),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: inspect model %q: %w", modelPath, err)
	}
	for _, info := range inputInfo {
		p.inputNames = append(p.inputNames, info.Name)
	}
	for _, info := range outputInfo {
		p.outputNames = append(p.outputNames, info.Name)
	}
	if len(outputInfo) > 0 && len(outputInfo[0].Dimensions) > 0 {
		if last := outputInfo[0].Dimensions[len(outputInfo[0].Dimensions)-1]; last > 0 {
			p.dims = int(last)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("wespeaker: create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, p.inputNames, p.outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: create session for %q: %w", modelPath, err)
	}
	p.session = session

	p.logger.Info("voice embedding model ready",
		slog.String("model", p.modelID),
		slog.Int("dimensions", p.dims),
		slog.Any("inputs", p.inputNames),
		slog.Any("outputs", p.outputNames))
	return p, nil
}

// Embed implements voiceemb.Provider.
func (p *Provider) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) < minSamples {
		return nil, fmt.Errorf("%w: %d samples", ErrSpanTooShort, len(samples))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, errors.New("wespeaker: provider is closed")
	}

	spec := p.frontend.compute(samples)
	numFrames := len(spec)

	// WeSpeaker exports take [batch, frames, mels] row-major.
	flat := make([]float32, numFrames*numMels)
	for t, frame := range spec {
		copy(flat[t*numMels:], frame)
	}

	shape := ort.NewShape(1, int64(numFrames), int64(numMels))
	input, err := ort.NewTensor(shape, flat)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("wespeaker: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("wespeaker: unexpected output tensor type %T", outputs[0])
	}

	// Copy out before the tensor is destroyed, then normalize so downstream
	// dot products are cosine similarities.
	embedding := make([]float32, len(tensor.GetData()))
	copy(embedding, tensor.GetData())
	l2Normalize(embedding)

	if p.dims == 0 {
		p.dims = len(embedding)
	}
	return embedding, nil
}

// Dimensions implements voiceemb.Provider. Returns 0 until the model has
// been inspected or run at least once.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

// ModelID implements voiceemb.Provider.
func (p *Provider) ModelID() string {
	return p.modelID
}

// Close releases the ONNX session. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	return nil
}

// l2Normalize scales v to unit length in place. Near-zero vectors are left
// untouched rather than amplified into noise.
func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-6 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
