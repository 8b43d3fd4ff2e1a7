package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/promo-studio/api-go/internal/ai"
	"github.com/example/promo-studio/api-go/internal/blob"
	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/render"
	"github.com/example/promo-studio/api-go/internal/store"
)

const scriptJSON = `{
  "totalDuration": 30,
  "scenes": [
    {"id": "hook", "duration": 5, "voiceover": "Your mixes sound muddy.",
     "onScreenText": {"headline": "Muddy mixes?"}, "imagePrompt": "dark studio", "mood": "intrigue"},
    {"id": "solution", "duration": 15, "voiceover": "Learn EQ the pro way.",
     "onScreenText": {"headline": "Mix like a pro", "bulletPoints": ["EQ", "Compression"]}, "imagePrompt": "mixing console"},
    {"id": "cta", "duration": 10, "voiceover": "Enroll today.",
     "onScreenText": {"headline": "Enroll now"}, "imagePrompt": "glowing button"}
  ],
  "colorPalette": {"primary": "#ff5500", "secondary": "#222222", "accent": "#33ccff", "background": "#000000"}
}`

const validCode = `var MyVideo = function() {
  return React.createElement(AbsoluteFill, { style: { backgroundColor: "#000" } }, "Mix like a pro");
};
return MyVideo;`

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingStore records every accepted status write.
type recordingStore struct {
	*store.SQLite
	mu       sync.Mutex
	statuses []model.JobStatus
	progress []int
}

func (r *recordingStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error {
	if err := r.SQLite.UpdateStatus(ctx, id, status, progress); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.progress = append(r.progress, progress)
	return nil
}

// fakeText answers JSON requests as the script model and the rest as the
// code model.
type fakeText struct {
	mu         sync.Mutex
	script     func(call int) (string, error)
	code       func(call int) (string, error)
	scriptReqs []ai.TextRequest
	codeReqs   []ai.TextRequest
}

func (f *fakeText) Generate(_ context.Context, req ai.TextRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.JSON {
		f.scriptReqs = append(f.scriptReqs, req)
		if f.script == nil {
			return scriptJSON, nil
		}
		return f.script(len(f.scriptReqs))
	}
	f.codeReqs = append(f.codeReqs, req)
	if f.code == nil {
		return "```javascript\n" + validCode + "\n```", nil
	}
	return f.code(len(f.codeReqs))
}

type fakeImages struct {
	mu      sync.Mutex
	fail    map[string]bool
	prompts []string
}

func (f *fakeImages) Generate(_ context.Context, prompt string, _ model.AspectRatio) (ai.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.fail[prompt] {
		return ai.Image{}, errors.New("content filtered")
	}
	return ai.Image{Data: []byte("png:" + prompt), ContentType: "image/png"}, nil
}

type fakeSpeech struct {
	mu     sync.Mutex
	err    error
	calls  int
	voices []string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, voiceID string) (ai.Speech, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.voices = append(f.voices, voiceID)
	if f.err != nil {
		return ai.Speech{}, f.err
	}
	return ai.Speech{
		Audio:       []byte("ID3" + text),
		ContentType: "audio/mpeg",
		Duration:    2.4,
		Words: []model.WordTimestamp{
			{Word: "Your", Start: 0, End: 0.3},
			{Word: "mixes", Start: 0.3, End: 0.7},
			{Word: "sound", Start: 0.7, End: 1.0},
			{Word: "muddy.", Start: 1.0, End: 1.5},
		},
	}, nil
}

type fakeEngine struct {
	mu        sync.Mutex
	renderErr error
	renders   []render.Request
	stills    []int
}

func (f *fakeEngine) Render(_ context.Context, req render.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, req)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte("mp4"), nil
}

func (f *fakeEngine) RenderStill(_ context.Context, _ render.Request, frame int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stills = append(f.stills, frame)
	return []byte("not-really-a-png"), nil
}

type harness struct {
	store  *recordingStore
	blobs  blob.LocalFS
	text   *fakeText
	images *fakeImages
	speech *fakeSpeech
	engine *fakeEngine
	now    time.Time
	orch   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		store:  &recordingStore{SQLite: db},
		blobs:  blob.LocalFS{Root: filepath.Join(dir, "blobs"), BaseURL: "http://studio.test"},
		text:   &fakeText{},
		images: &fakeImages{},
		speech: &fakeSpeech{},
		engine: &fakeEngine{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.orch = &Orchestrator{
		Store:      h.store,
		Artifacts:  h.blobs,
		Logger:     discardLogger,
		Now:        func() time.Time { return h.now },
		Context:    ContextGatherer{Store: h.store, Voices: map[string]string{"narrator": "voice-1"}},
		Script:     ScriptGenerator{Text: h.text, Store: h.store, Logger: discardLogger},
		Images:     ImageGenerator{Images: h.images, Artifacts: h.blobs, Logger: discardLogger},
		Voice:      VoiceSynthesizer{Speech: h.speech, Artifacts: h.blobs, Logger: discardLogger},
		Code:       CodeGenerator{Text: h.text, Store: h.store, Logger: discardLogger},
		Render:     Renderer{Engine: h.engine, Artifacts: h.blobs, Store: h.store, Logger: discardLogger},
		Post:       PostProcessor{Engine: h.engine, Artifacts: h.blobs, Store: h.store, Logger: discardLogger},
		RetryDelay: 5 * time.Second,
	}
	return h
}

func (h *harness) createJob(t *testing.T, in model.JobInputs) string {
	t.Helper()
	if in.Prompt == "" {
		in.Prompt = "Promote the mixing masterclass"
	}
	if in.TargetDuration == 0 {
		in.TargetDuration = 30
	}
	if in.AspectRatio == "" {
		in.AspectRatio = model.AspectPortrait
	}
	id, err := h.store.CreateJob(context.Background(), in)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return id
}

func (h *harness) job(t *testing.T, id string) model.VideoJob {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (h *harness) pendingRuns(t *testing.T, id string) int {
	t.Helper()
	n, err := h.store.PendingRuns(context.Background(), id)
	if err != nil {
		t.Fatalf("pending runs: %v", err)
	}
	return n
}

// nextRunAt claims the job's earliest queued run and returns when it is due.
func (h *harness) nextRunAt(t *testing.T, id string) time.Time {
	t.Helper()
	runs, err := h.store.ClaimDueRuns(context.Background(), h.now.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("claim runs: %v", err)
	}
	for _, run := range runs {
		if run.JobID == id {
			return run.RunAt
		}
	}
	t.Fatalf("job %s has no queued run", id)
	return time.Time{}
}
