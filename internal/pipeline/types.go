package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/render"
)

// Result is a stage outcome that may be incomplete without being a failure.
type Result[T any] struct {
	Value    T
	Degraded bool
	Reason   string
}

func Complete[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Degrade[T any](v T, reason string) Result[T] {
	return Result[T]{Value: v, Degraded: true, Reason: reason}
}

// JobStore is the persistence the pipeline needs; *store.SQLite satisfies it.
type JobStore interface {
	GetJob(ctx context.Context, id string) (model.VideoJob, error)
	UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error
	RecordFailure(ctx context.Context, id string, f model.Failure) (model.FailureOutcome, error)
	SetResult(ctx context.Context, id string, field model.ResultField, value string) error
	MarkCompleted(ctx context.Context, id string) error
	SaveScript(ctx context.Context, script model.VideoScript) (string, error)
	GetScript(ctx context.Context, id string) (model.VideoScript, error)
	GetSource(ctx context.Context, id string) (model.Source, error)
}

// Artifacts stores generated bytes and resolves them to fetchable URLs.
type Artifacts interface {
	Upload(ctx context.Context, jobID string, data []byte, contentType string) (string, error)
	ResolveURL(handle string) (string, error)
}

// Scheduler queues a run of a job after a delay.
type Scheduler interface {
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error
}

// JobContext is everything later stages need, resolved once per attempt.
type JobContext struct {
	JobID          string
	Prompt         string
	Style          string
	TargetDuration int
	AspectRatio    model.AspectRatio
	// VoiceID is the provider voice id; empty means no narration.
	VoiceID string
	Source  *model.Source
	// PreviousCode and Feedback are set only for revisions.
	PreviousCode string
	Feedback     string
}

func (c JobContext) IsRevision() bool {
	return c.PreviousCode != "" && c.Feedback != ""
}

func (c JobContext) TotalFrames() int {
	return model.TotalFrames(c.TargetDuration)
}

type ScriptResult struct {
	ScriptID      string
	Script        model.VideoScript
	ImagePrompts  []string
	VoiceoverText string
}

// ImageSet has one handle per prompt, in prompt order. A failed prompt
// leaves an empty handle.
type ImageSet struct {
	Handles   []string
	Succeeded int
}

type Voiceover struct {
	AudioHandle string
	Duration    float64
	Words       []model.WordTimestamp
}

// AudioInput is a voiceover resolved for the code and render stages.
type AudioInput struct {
	URL      string
	Duration float64
	Words    []model.WordTimestamp
}

type CodeResult struct {
	Code         string
	UsedFallback bool
}

type RenderResult struct {
	VideoHandle string
	Frames      int
	Dimensions  model.Dimensions
	// Composition is the request that produced the video, reused for stills.
	Composition render.Request
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
