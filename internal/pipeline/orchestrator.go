package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/promo-studio/api-go/internal/model"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

// ErrInterrupted marks an attempt that stopped mid-pipeline, usually because
// the process exited.
var ErrInterrupted = errors.New("previous attempt was interrupted")

// Orchestrator runs one attempt of a job's pipeline per Run call. A failed
// attempt is recorded together with its retry run, so the two cannot drift
// apart.
type Orchestrator struct {
	Store     JobStore
	Artifacts Artifacts
	Logger    *slog.Logger
	Now       func() time.Time

	Context ContextGatherer
	Script  ScriptGenerator
	Images  ImageGenerator
	Voice   VoiceSynthesizer
	Code    CodeGenerator
	Render  Renderer
	Post    PostProcessor

	MaxRetries int
	RetryDelay time.Duration
}

func (o *Orchestrator) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) retryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return DefaultRetryDelay
}

// Run executes the job from gathering_context to completed. Finished jobs
// and jobs out of retries are left alone, so redelivered runs are harmless.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	log := orDefault(o.Logger).With(slog.String("job_id", jobID))

	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	switch {
	case job.Status == model.StatusCompleted:
		log.InfoContext(ctx, "job already completed")
		return nil
	case job.Status == model.StatusFailed && !job.Retryable(o.maxRetries()):
		log.InfoContext(ctx, "job permanently failed", slog.Int("retry_count", job.RetryCount), slog.Bool("bad_input", job.Permanent))
		return nil
	case job.Status != model.StatusPending && job.Status != model.StatusFailed:
		// This run continues the job itself, so no retry run is queued.
		out, err := o.Store.RecordFailure(ctx, jobID, model.Failure{
			Attempt:    job.RetryCount,
			Message:    ErrInterrupted.Error(),
			MaxRetries: o.maxRetries(),
		})
		if err != nil {
			return fmt.Errorf("record interrupted attempt: %w", err)
		}
		log.WarnContext(ctx, "resuming interrupted job", slog.String("status", string(job.Status)), slog.Int("retry_count", out.RetryCount))
		if out.RetryCount >= o.maxRetries() {
			return fmt.Errorf("job %s: %w", jobID, ErrInterrupted)
		}
		if job, err = o.Store.GetJob(ctx, jobID); err != nil {
			return err
		}
	}

	attempt := job.RetryCount
	started := time.Now()
	log.InfoContext(ctx, "pipeline attempt started", slog.Int("attempt", attempt+1), slog.Int("version", job.Version))

	if err := o.runStages(ctx, job, log); err != nil {
		return o.fail(ctx, job, attempt, err, log)
	}
	log.InfoContext(ctx, "pipeline completed", slog.Duration("elapsed", time.Since(started)))
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, job model.VideoJob, log *slog.Logger) error {
	id := job.ID

	if err := o.advance(ctx, id, model.StatusGatheringContext); err != nil {
		return err
	}
	jc, err := o.Context.Gather(ctx, job)
	if err != nil {
		return err
	}

	if err := o.advance(ctx, id, model.StatusGeneratingScript); err != nil {
		return err
	}
	script, err := o.Script.Generate(ctx, jc)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "script ready",
		slog.String("script_id", script.ScriptID),
		slog.Int("scenes", len(script.Script.Scenes)),
		slog.Int("image_prompts", len(script.ImagePrompts)))

	if err := o.advance(ctx, id, model.StatusGeneratingAssets); err != nil {
		return err
	}
	var (
		images Result[ImageSet]
		voice  Result[*Voiceover]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := o.Images.Generate(gctx, id, script.ImagePrompts, jc.AspectRatio)
		if err != nil {
			return fmt.Errorf("images: %w", err)
		}
		images = res
		return nil
	})
	g.Go(func() error {
		if err := o.advance(gctx, id, model.StatusGeneratingVoice); err != nil {
			return err
		}
		voice = o.Voice.Synthesize(gctx, id, script.VoiceoverText, jc.VoiceID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if images.Degraded {
		log.WarnContext(ctx, "images degraded", slog.String("reason", images.Reason), slog.Int("succeeded", images.Value.Succeeded))
	}
	if voice.Degraded {
		log.WarnContext(ctx, "voice skipped", slog.String("reason", voice.Reason))
	}

	imageURLs := images.Value.URLs(o.Artifacts)
	audio := o.resolveAudio(ctx, voice.Value, log)

	if err := o.advance(ctx, id, model.StatusGeneratingCode); err != nil {
		return err
	}
	code, err := o.Code.Generate(ctx, CodeInput{
		JobID:        id,
		Script:       script.Script,
		ImageURLs:    imageURLs,
		Audio:        audio,
		AspectRatio:  jc.AspectRatio,
		Duration:     jc.TargetDuration,
		PreviousCode: jc.PreviousCode,
		Feedback:     jc.Feedback,
	})
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "composition ready", slog.Bool("used_fallback", code.UsedFallback), slog.Bool("revision", jc.IsRevision()))

	if err := o.advance(ctx, id, model.StatusRendering); err != nil {
		return err
	}
	rendered, err := o.Render.Render(ctx, RenderInput{
		JobID:       id,
		Code:        code.Code,
		ImageURLs:   imageURLs,
		Audio:       audio,
		AspectRatio: jc.AspectRatio,
		Duration:    jc.TargetDuration,
		Palette:     script.Script.Palette,
	})
	if err != nil {
		return err
	}

	if err := o.advance(ctx, id, model.StatusPostProcessing); err != nil {
		return err
	}
	o.Post.Run(ctx, id, script.Script, voice.Value, rendered)

	return o.Store.MarkCompleted(ctx, id)
}

func (o *Orchestrator) advance(ctx context.Context, id string, status model.JobStatus) error {
	if err := o.Store.UpdateStatus(ctx, id, status, status.Progress()); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	orDefault(o.Logger).DebugContext(ctx, "stage started", slog.String("job_id", id), slog.String("stage", string(status)))
	return nil
}

func (o *Orchestrator) resolveAudio(ctx context.Context, voice *Voiceover, log *slog.Logger) *AudioInput {
	if voice == nil {
		return nil
	}
	url, err := o.Artifacts.ResolveURL(voice.AudioHandle)
	if err != nil {
		log.WarnContext(ctx, "audio unresolvable, continuing without it", slog.String("error", err.Error()))
		return nil
	}
	return &AudioInput{URL: url, Duration: voice.Duration, Words: voice.Words}
}

// fail records the error, moves the job to failed and, while retries
// remain, queues the next attempt in the same store write. Bad input is
// marked permanent and never retried.
func (o *Orchestrator) fail(ctx context.Context, job model.VideoJob, attempt int, cause error, log *slog.Logger) error {
	var ctxErr *model.ContextError
	permanent := errors.As(cause, &ctxErr)

	// Shutdown cancels ctx; the failure must still be recorded.
	out, err := o.Store.RecordFailure(context.WithoutCancel(ctx), job.ID, model.Failure{
		Attempt:    attempt,
		Message:    cause.Error(),
		Permanent:  permanent,
		MaxRetries: o.maxRetries(),
		RetryAt:    o.now().Add(o.retryDelay()),
	})
	if err != nil {
		log.ErrorContext(ctx, "could not record failure", slog.String("error", err.Error()), slog.String("cause", cause.Error()))
		return errors.Join(cause, err)
	}

	switch {
	case out.Permanent:
		log.ErrorContext(ctx, "job failed on bad input, not retrying", slog.String("error", cause.Error()))
	case out.RetryScheduled:
		log.WarnContext(ctx, "job failed, retry scheduled",
			slog.Int("retry_count", out.RetryCount), slog.Duration("delay", o.retryDelay()), slog.String("error", cause.Error()))
	default:
		log.ErrorContext(ctx, "job failed permanently", slog.Int("retry_count", out.RetryCount), slog.String("error", cause.Error()))
	}
	return cause
}
