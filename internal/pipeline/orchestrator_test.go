package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/promo-studio/api-go/internal/model"
)

func TestRunCompletesJob(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, model.JobInputs{VoiceID: "narrator"})

	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := h.job(t, id)
	if job.Status != model.StatusCompleted || job.Progress != 100 || job.CompletedAt == nil {
		t.Fatalf("job = %s/%d completedAt=%v", job.Status, job.Progress, job.CompletedAt)
	}
	if job.GeneratedCode != validCode || job.UsedFallback {
		t.Fatalf("code = %q (fallback %v)", job.GeneratedCode, job.UsedFallback)
	}
	if job.ScriptID == "" || job.VideoHandle == "" || job.ThumbnailHandle == "" {
		t.Fatalf("missing artifacts: %+v", job)
	}
	if !strings.Contains(job.SubtitleText, "Your mixes sound muddy.") {
		t.Fatalf("subtitles = %q", job.SubtitleText)
	}
	if !strings.HasPrefix(job.CaptionText, "Muddy mixes?") {
		t.Fatalf("caption = %q", job.CaptionText)
	}
	if !h.blobs.Exists(job.VideoHandle) {
		t.Fatalf("video %s not stored", job.VideoHandle)
	}

	wantStatuses := []model.JobStatus{
		model.StatusGatheringContext,
		model.StatusGeneratingScript,
		model.StatusGeneratingAssets,
		model.StatusGeneratingVoice,
		model.StatusGeneratingCode,
		model.StatusRendering,
		model.StatusPostProcessing,
	}
	if diff := cmp.Diff(wantStatuses, h.store.statuses); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(h.store.progress); i++ {
		if h.store.progress[i] < h.store.progress[i-1] {
			t.Fatalf("progress went backwards: %v", h.store.progress)
		}
	}
	if diff := cmp.Diff([]string{"voice-1"}, h.speech.voices); diff != "" {
		t.Fatalf("voices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{270}, h.engine.stills); diff != "" {
		t.Fatalf("thumbnail frame mismatch (-want +got):\n%s", diff)
	}
}

func TestRunWithoutVoiceStillGeneratesCode(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, model.JobInputs{})

	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := h.job(t, id)
	if job.Status != model.StatusCompleted || job.GeneratedCode == "" {
		t.Fatalf("job = %s code=%q", job.Status, job.GeneratedCode)
	}
	if job.SubtitleText != "" {
		t.Fatalf("subtitles without narration: %q", job.SubtitleText)
	}
	if h.speech.calls != 0 {
		t.Fatalf("speech called %d times", h.speech.calls)
	}
	if !strings.Contains(h.text.codeReqs[0].Prompt, "No audio") {
		t.Fatalf("code prompt should describe a text-only video")
	}
	props := h.engine.renders[0].Props.(compositionProps)
	if props.AudioURL != "" {
		t.Fatalf("audio url = %q", props.AudioURL)
	}
}

func TestRunKeepsSucceededImages(t *testing.T) {
	h := newHarness(t)
	h.images.fail = map[string]bool{"mixing console": true}
	id := h.createJob(t, model.JobInputs{VoiceID: "narrator"})

	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}

	props := h.engine.renders[0].Props.(compositionProps)
	if len(props.Images) != 2 {
		t.Fatalf("images = %v, want 2", props.Images)
	}
	for _, url := range props.Images {
		if !strings.HasPrefix(url, "http://studio.test/v1/artifacts/jobs/"+id+"/") {
			t.Fatalf("unexpected url %q", url)
		}
	}
	prompt := h.text.codeReqs[0].Prompt
	if !strings.Contains(prompt, "## Images (2)") || strings.Contains(prompt, "images[2]") {
		t.Fatalf("code prompt image list:\n%s", prompt)
	}
	if h.job(t, id).Status != model.StatusCompleted {
		t.Fatalf("job did not complete")
	}
}

func TestRunRevisionEditsParentCode(t *testing.T) {
	h := newHarness(t)
	parentID := h.createJob(t, model.JobInputs{})
	if err := h.orch.Run(context.Background(), parentID); err != nil {
		t.Fatalf("run parent: %v", err)
	}

	childID := h.createJob(t, model.JobInputs{ParentJobID: parentID, IterationFeedback: "make the hook punchier"})
	if err := h.orch.Run(context.Background(), childID); err != nil {
		t.Fatalf("run child: %v", err)
	}

	prompt := h.text.codeReqs[len(h.text.codeReqs)-1].Prompt
	if !strings.Contains(prompt, "## Iteration") || !strings.Contains(prompt, validCode) {
		t.Fatalf("revision prompt lacks parent code:\n%s", prompt)
	}
	if !strings.Contains(prompt, "make the hook punchier") {
		t.Fatalf("revision prompt lacks feedback")
	}
	child := h.job(t, childID)
	if child.Status != model.StatusCompleted || child.Version != 2 || child.RootJobID != parentID {
		t.Fatalf("child = %s v%d root=%s", child.Status, child.Version, child.RootJobID)
	}
}

func TestRunStopsRetryingAfterThreeFailures(t *testing.T) {
	h := newHarness(t)
	h.engine.renderErr = errors.New("renderer crashed")
	id := h.createJob(t, model.JobInputs{})
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		if err := h.orch.Run(ctx, id); err == nil {
			t.Fatalf("attempt %d: expected error", attempt)
		}
		job := h.job(t, id)
		if job.Status != model.StatusFailed || job.RetryCount != attempt {
			t.Fatalf("attempt %d: job = %s retry=%d", attempt, job.Status, job.RetryCount)
		}
		if !strings.Contains(job.LastError, "renderer crashed") {
			t.Fatalf("last error = %q", job.LastError)
		}
	}
	if n := h.pendingRuns(t, id); n != 2 {
		t.Fatalf("queued retries = %d, want 2", n)
	}
	if at := h.nextRunAt(t, id); !at.Equal(h.now.Add(5 * time.Second)) {
		t.Fatalf("retry due at %v, want %v", at, h.now.Add(5*time.Second))
	}

	// A stray run after the limit leaves the job alone.
	if err := h.orch.Run(ctx, id); err != nil {
		t.Fatalf("run after limit: %v", err)
	}
	if job := h.job(t, id); job.RetryCount != 3 || job.Status != model.StatusFailed {
		t.Fatalf("job changed after limit: %s retry=%d", job.Status, job.RetryCount)
	}
	if len(h.engine.renders) != 3 {
		t.Fatalf("renders = %d, want 3", len(h.engine.renders))
	}
}

func TestRunDoesNotRetryBadInput(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, model.JobInputs{VoiceID: "ghost"})

	err := h.orch.Run(context.Background(), id)
	var ctxErr *model.ContextError
	if !errors.As(err, &ctxErr) || ctxErr.Field != "voiceId" {
		t.Fatalf("expected voiceId ContextError, got %v", err)
	}
	job := h.job(t, id)
	if job.Status != model.StatusFailed || !job.Permanent || !strings.Contains(job.LastError, "unknown voice") {
		t.Fatalf("job = %s permanent=%v %q", job.Status, job.Permanent, job.LastError)
	}
	if n := h.pendingRuns(t, id); n != 0 {
		t.Fatalf("bad input was rescheduled: %d runs", n)
	}
	if len(h.text.scriptReqs) != 0 {
		t.Fatalf("script stage ran for bad input")
	}

	// A redelivered run does not gather the bad input again.
	writes := len(h.store.statuses)
	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("redelivered run: %v", err)
	}
	if again := h.job(t, id); len(h.store.statuses) != writes || again.RetryCount != job.RetryCount {
		t.Fatalf("bad-input job ran again: writes %d -> %d, retry %d -> %d",
			writes, len(h.store.statuses), job.RetryCount, again.RetryCount)
	}
}

func TestRunImageStageFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.orch.Images = ImageGenerator{Images: h.images, Artifacts: failingArtifacts{}, Logger: discardLogger}
	id := h.createJob(t, model.JobInputs{VoiceID: "narrator"})

	err := h.orch.Run(context.Background(), id)
	if err == nil || !strings.Contains(err.Error(), "storage unusable") {
		t.Fatalf("expected storage error, got %v", err)
	}
	job := h.job(t, id)
	if job.Status != model.StatusFailed || job.RetryCount != 1 || job.Permanent {
		t.Fatalf("job = %s retry=%d permanent=%v", job.Status, job.RetryCount, job.Permanent)
	}
	if len(h.text.codeReqs) != 0 || len(h.engine.renders) != 0 {
		t.Fatalf("pipeline continued past the failed join")
	}
	if n := h.pendingRuns(t, id); n != 1 {
		t.Fatalf("queued retries = %d, want 1", n)
	}
	if at := h.nextRunAt(t, id); !at.Equal(h.now.Add(5 * time.Second)) {
		t.Fatalf("retry due at %v, want %v", at, h.now.Add(5*time.Second))
	}
}

func TestRunSpeechErrorStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.speech.err = errors.New("elevenlabs: quota exceeded")
	id := h.createJob(t, model.JobInputs{VoiceID: "narrator"})

	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}
	job := h.job(t, id)
	if job.Status != model.StatusCompleted || job.RetryCount != 0 {
		t.Fatalf("job = %s retry=%d", job.Status, job.RetryCount)
	}
	if job.SubtitleText != "" {
		t.Fatalf("subtitles without audio: %q", job.SubtitleText)
	}
	if h.speech.calls != 1 {
		t.Fatalf("speech calls = %d, want 1", h.speech.calls)
	}
	props := h.engine.renders[0].Props.(compositionProps)
	if props.AudioURL != "" {
		t.Fatalf("audio url = %q", props.AudioURL)
	}
	if n := h.pendingRuns(t, id); n != 0 {
		t.Fatalf("completed job has %d queued runs", n)
	}
}

func TestRunFallsBackOnUnsafeCode(t *testing.T) {
	h := newHarness(t)
	h.text.code = func(int) (string, error) {
		return "fetch(\"https://evil.test\");\nreturn MyVideo;", nil
	}
	id := h.createJob(t, model.JobInputs{})

	if err := h.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}
	job := h.job(t, id)
	if !job.UsedFallback || job.Status != model.StatusCompleted {
		t.Fatalf("job = %s fallback=%v", job.Status, job.UsedFallback)
	}
	if problems := ValidateCode(job.GeneratedCode); len(problems) != 0 {
		t.Fatalf("fallback code invalid: %v", problems)
	}
	if len(h.text.codeReqs) != 1 {
		t.Fatalf("code attempts = %d, want 1 after a security violation", len(h.text.codeReqs))
	}
}

func TestRunResumesInterruptedJob(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, model.JobInputs{})
	ctx := context.Background()
	for _, status := range []model.JobStatus{model.StatusGatheringContext, model.StatusGeneratingScript} {
		if err := h.store.SQLite.UpdateStatus(ctx, id, status, status.Progress()); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	if err := h.orch.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}
	job := h.job(t, id)
	if job.Status != model.StatusCompleted || job.RetryCount != 1 {
		t.Fatalf("job = %s retry=%d", job.Status, job.RetryCount)
	}
	if n := h.pendingRuns(t, id); n != 0 {
		t.Fatalf("resumed run should not schedule another: %d runs", n)
	}
}

func TestRunCompletedJobIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, model.JobInputs{})
	ctx := context.Background()
	if err := h.orch.Run(ctx, id); err != nil {
		t.Fatalf("run: %v", err)
	}
	writes := len(h.store.statuses)

	if err := h.orch.Run(ctx, id); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(h.store.statuses) != writes || len(h.engine.renders) != 1 {
		t.Fatalf("completed job ran again")
	}
}
