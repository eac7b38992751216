// This file contains the Provider implementation backed by the sherpa-onnx
// CGO bindings. The sherpa-onnx shared libraries must be available at link
// time; model files (pyannote segmentation + a speaker embedding model) are
// loaded from disk at startup.

// Package sherpa implements diarizer.Provider on top of the sherpa-onnx
// offline speaker-diarization pipeline (pyannote segmentation + embedding
// extraction + fast clustering).
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
)

// Compile-time assertion that Provider satisfies diarizer.Provider.
var _ diarizer.Provider = (*Provider)(nil)

// Provider implements diarizer.Provider using sherpa-onnx. The underlying
// pipeline is loaded once at startup; Process calls are serialized because
// the native handle is not reentrant.
type Provider struct {
	mu       sync.Mutex
	pipeline *sherpaonnx.OfflineSpeakerDiarization
	rate     int
	logger   *slog.Logger

	segmentationModel string
	embeddingModel    string
	numThreads        int
	clusterThreshold  float32
	minDurationOn     float32
	minDurationOff    float32
	onnxProvider      string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithNumThreads sets the ONNX runtime thread count. Defaults to 4.
func WithNumThreads(n int) Option {
	return func(p *Provider) { p.numThreads = n }
}

// WithClusteringThreshold sets the fast-clustering distance threshold used to
// decide when two embeddings belong to the same within-clip speaker.
// Defaults to 0.5.
func WithClusteringThreshold(t float32) Option {
	return func(p *Provider) { p.clusterThreshold = t }
}

// WithMinDurationOn sets the minimum speech span (seconds) the segmentation
// stage reports. Defaults to 0.3.
func WithMinDurationOn(on float32) Option {
	return func(p *Provider) { p.minDurationOn = on }
}

// WithMinDurationOff sets the minimum pause (seconds) between reported spans.
// Defaults to 0.5.
func WithMinDurationOff(off float32) Option {
	return func(p *Provider) { p.minDurationOff = off }
}

// WithONNXProvider pins the ONNX execution provider ("cpu", "cuda",
// "coreml"). The default "auto" picks coreml on Apple Silicon and cpu
// everywhere else, falling back to cpu if the accelerated provider fails to
// initialize.
func WithONNXProvider(name string) Option {
	return func(p *Provider) { p.onnxProvider = name }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Provider that loads the segmentation and embedding models
// from the given file paths. The caller must call Close when the provider is
// no longer needed.
func New(segmentationModel, embeddingModel string, opts ...Option) (*Provider, error) {
	if segmentationModel == "" || embeddingModel == "" {
		return nil, errors.New("sherpa: segmentation and embedding model paths must not be empty")
	}
	if _, err := os.Stat(segmentationModel); err != nil {
		return nil, fmt.Errorf("sherpa: segmentation model %q: %w", segmentationModel, err)
	}
	if _, err := os.Stat(embeddingModel); err != nil {
		return nil, fmt.Errorf("sherpa: embedding model %q: %w", embeddingModel, err)
	}

	p := &Provider{
		segmentationModel: segmentationModel,
		embeddingModel:    embeddingModel,
		numThreads:        4,
		clusterThreshold:  0.5,
		minDurationOn:     0.3,
		minDurationOff:    0.5,
		onnxProvider:      "auto",
		logger:            slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	onnxProvider := p.onnxProvider
	if onnxProvider == "auto" || onnxProvider == "" {
		onnxProvider = detectONNXProvider()
	}

	cfg := p.pipelineConfig(onnxProvider)
	pipeline := sherpaonnx.NewOfflineSpeakerDiarization(cfg)
	if pipeline == nil && onnxProvider != "cpu" {
		p.logger.Warn("diarization pipeline failed to initialize, retrying on cpu",
			slog.String("provider", onnxProvider))
		onnxProvider = "cpu"
		pipeline = sherpaonnx.NewOfflineSpeakerDiarization(p.pipelineConfig(onnxProvider))
	}
	if pipeline == nil {
		return nil, fmt.Errorf("sherpa: failed to initialize diarization pipeline (provider %s)", onnxProvider)
	}

	p.pipeline = pipeline
	p.rate = pipeline.SampleRate()
	p.logger.Info("diarization pipeline ready",
		slog.String("provider", onnxProvider),
		slog.String("segmentation_model", segmentationModel),
		slog.String("embedding_model", embeddingModel),
		slog.Int("sample_rate", p.rate))
	return p, nil
}

// detectONNXProvider picks the execution provider for the current platform.
func detectONNXProvider() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	return "cpu"
}

func (p *Provider) pipelineConfig(onnxProvider string) *sherpaonnx.OfflineSpeakerDiarizationConfig {
	return &sherpaonnx.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpaonnx.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpaonnx.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: p.segmentationModel,
			},
			NumThreads: p.numThreads,
			Provider:   onnxProvider,
		},
		Embedding: sherpaonnx.SpeakerEmbeddingExtractorConfig{
			Model:      p.embeddingModel,
			NumThreads: p.numThreads,
			Provider:   onnxProvider,
		},
		Clustering: sherpaonnx.FastClusteringConfig{
			NumClusters: -1, // infer the speaker count from the clip
			Threshold:   p.clusterThreshold,
		},
		MinDurationOn:  p.minDurationOn,
		MinDurationOff: p.minDurationOff,
	}
}

// Diarize implements diarizer.Provider.
func (p *Provider) Diarize(ctx context.Context, samples []float32) ([]diarizer.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline == nil {
		return nil, errors.New("sherpa: provider is closed")
	}

	segments := p.pipeline.Process(samples)
	turns := make([]diarizer.Turn, 0, len(segments))
	for _, seg := range segments {
		turns = append(turns, diarizer.Turn{
			Label: "speaker_" + strconv.Itoa(seg.Speaker),
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
		})
	}
	return turns, nil
}

// SampleRate implements diarizer.Provider.
func (p *Provider) SampleRate() int {
	return p.rate
}

// Close releases the native pipeline. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline != nil {
		sherpaonnx.DeleteOfflineSpeakerDiarization(p.pipeline)
		p.pipeline = nil
	}
	return nil
}

func secondsToDuration(s float32) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}
