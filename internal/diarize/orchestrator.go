// Package diarize implements the diarization orchestrator: the policy layer
// that fuses generic backbone speaker turns with enrolled-identity matching.
//
// The orchestrator runs the backbone once per clip, then tries to upgrade
// each anonymous turn label to an enrolled user ID by extracting a
// turn-window voice embedding and querying the speaker registry. Identity
// resolution is best-effort per turn: a failed extraction or lookup
// downgrades that one turn to its generic label and never aborts the
// request. Backbone failure, by contrast, fails the whole request.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/huddlesync/diarizerd/internal/observe"
	"github.com/huddlesync/diarizerd/pkg/audio"
	"github.com/huddlesync/diarizerd/pkg/provider/diarizer"
	"github.com/huddlesync/diarizerd/pkg/provider/voiceemb"
	"github.com/huddlesync/diarizerd/pkg/speaker"
)

// DefaultThreshold is the cosine-similarity acceptance threshold used when
// neither the configuration nor the request supplies one.
const DefaultThreshold = 0.65

// segmentConfidence is the fixed confidence reported on every segment. The
// pipeline does not derive a true matching confidence; this is a declared
// placeholder, not a statistic.
const segmentConfidence = 0.85

// ErrBackbone wraps diarization backbone failures. These are fatal for the
// whole request.
var ErrBackbone = errors.New("diarize: backbone failure")

// Segment is one labeled span of the output timeline. StartMS and EndMS are
// millisecond offsets from the start of the clip, truncated toward zero.
type Segment struct {
	// SpeakerLabel is the enrolled user ID when identity resolution
	// succeeded, or the backbone's generic tag otherwise.
	SpeakerLabel string `json:"speaker_label"`

	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// Confidence is always [segmentConfidence].
	Confidence float64 `json:"confidence"`
}

// Orchestrator coordinates the diarization backbone, the voice-embedding
// extractor, and the enrolled-speaker registry. Safe for concurrent use as
// long as its collaborators are.
type Orchestrator struct {
	backbone         diarizer.Provider
	embedder         voiceemb.Provider
	speakers         speaker.Store
	defaultThreshold float64
	metrics          *observe.Metrics
	logger           *slog.Logger
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultThreshold overrides [DefaultThreshold] for requests that do not
// supply their own.
func WithDefaultThreshold(t float64) Option {
	return func(o *Orchestrator) {
		if t != 0 {
			o.defaultThreshold = t
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator over the given collaborators.
func New(backbone diarizer.Provider, embedder voiceemb.Provider, speakers speaker.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backbone:         backbone,
		embedder:         embedder,
		speakers:         speakers,
		defaultThreshold: DefaultThreshold,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// DefaultThreshold returns the threshold applied when a request does not
// supply one.
func (o *Orchestrator) DefaultThreshold() float64 {
	return o.defaultThreshold
}

// Diarize partitions the clip into speaker turns and resolves each turn to
// an enrolled identity where possible. The returned segments preserve the
// backbone's turn order, one segment per turn.
//
// threshold is the cosine-similarity acceptance bound in [0, 1]; callers
// that want the configured default should pass [Orchestrator.DefaultThreshold].
func (o *Orchestrator) Diarize(ctx context.Context, clip *audio.Clip, threshold float64) ([]Segment, error) {
	start := time.Now()
	defer func() {
		o.metrics.DiarizeDuration.Record(ctx, time.Since(start).Seconds())
	}()

	backboneStart := time.Now()
	turns, err := o.backbone.Diarize(ctx, clip.Samples)
	o.metrics.BackboneDuration.Record(ctx, time.Since(backboneStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackbone, err)
	}

	segments := make([]Segment, 0, len(turns))
	for _, turn := range turns {
		label, outcome := o.resolveTurn(ctx, clip, turn, threshold)
		o.metrics.RecordTurn(ctx, outcome)
		segments = append(segments, Segment{
			SpeakerLabel: label,
			StartMS:      turn.Start.Milliseconds(),
			EndMS:        turn.End.Milliseconds(),
			Confidence:   segmentConfidence,
		})
	}

	o.logger.InfoContext(ctx, "diarization complete",
		slog.Int("turns", len(turns)),
		slog.Float64("threshold", threshold),
		slog.Duration("clip", clip.Duration()))
	return segments, nil
}

// resolveTurn attempts to upgrade one turn's generic label to an enrolled
// user ID. Every failure path lands on the generic label: each step returns
// an explicit result and the fallback branch is chosen here, not by
// swallowing a panic somewhere below.
func (o *Orchestrator) resolveTurn(ctx context.Context, clip *audio.Clip, turn diarizer.Turn, threshold float64) (label, outcome string) {
	window, err := clip.Window(turn.Start, turn.End)
	if err != nil {
		o.noteFallback(ctx, turn, "window", err)
		return turn.Label, "fallback"
	}

	embedStart := time.Now()
	embedding, err := o.embedder.Embed(ctx, window)
	o.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds())
	if err != nil {
		o.noteFallback(ctx, turn, "embed", err)
		return turn.Label, "fallback"
	}

	match, ok, err := o.speakers.FindMatch(ctx, embedding, threshold)
	if err != nil {
		o.noteFallback(ctx, turn, "match", err)
		return turn.Label, "fallback"
	}
	if !ok {
		return turn.Label, "unknown"
	}
	return match.UserID, "matched"
}

// noteFallback records a per-turn identity-resolution failure. The turn
// itself survives with its generic label.
func (o *Orchestrator) noteFallback(ctx context.Context, turn diarizer.Turn, stage string, err error) {
	o.metrics.RecordExtractionError(ctx)
	o.logger.WarnContext(ctx, "turn identity resolution failed, keeping generic label",
		slog.String("stage", stage),
		slog.String("label", turn.Label),
		slog.Duration("start", turn.Start),
		slog.Duration("end", turn.End),
		slog.String("error", err.Error()))
}

// Enroll extracts one whole-clip embedding and registers it for userID.
// Unlike per-turn resolution, extraction failures here surface to the
// caller: there is no generic label to degrade to.
func (o *Orchestrator) Enroll(ctx context.Context, userID string, clip *audio.Clip) error {
	embedStart := time.Now()
	embedding, err := o.embedder.Embed(ctx, clip.Samples)
	o.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds())
	if err != nil {
		o.metrics.RecordEnrollment(ctx, "error")
		return fmt.Errorf("diarize: extract enrollment embedding for %q: %w", userID, err)
	}

	if err := o.speakers.Enroll(ctx, userID, embedding); err != nil {
		o.metrics.RecordEnrollment(ctx, "error")
		return fmt.Errorf("diarize: enroll %q: %w", userID, err)
	}

	o.metrics.RecordEnrollment(ctx, "ok")
	o.logger.InfoContext(ctx, "speaker enrolled",
		slog.String("user_id", userID),
		slog.Int("dimensions", len(embedding)),
		slog.Duration("clip", clip.Duration()))
	return nil
}
