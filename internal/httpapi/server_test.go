package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/promo-studio/api-go/internal/blob"
	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/queue"
	"github.com/example/promo-studio/api-go/internal/store"
)

const publicURL = "http://studio.test"

type testServer struct {
	*httptest.Server
	jobs  *store.SQLite
	blobs blob.LocalFS
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ts := &testServer{
		jobs:  db,
		blobs: blob.LocalFS{Root: filepath.Join(dir, "blobs"), BaseURL: publicURL},
	}
	api := Server{
		Blobs:       ts.blobs,
		Jobs:        db,
		Queue:       queue.Queue{Store: db},
		Voices:      map[string]string{"narrator": "voice-1"},
		CORSOrigins: origins,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ts.Server = httptest.NewServer(api.Router())
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

// complete walks a job to completed with code and a video.
func (ts *testServer) complete(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	for _, status := range model.Pipeline {
		if err := ts.jobs.UpdateStatus(ctx, id, status, status.Progress()); err != nil {
			t.Fatalf("update %s: %v", status, err)
		}
	}
	handle, err := ts.blobs.Upload(ctx, id, []byte("mp4-bytes"), "video/mp4")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	for field, value := range map[model.ResultField]string{
		model.FieldCode:      "return MyVideo;",
		model.FieldVideo:     handle,
		model.FieldSubtitles: "1\n00:00:00,000 --> 00:00:01,000\nHello\n",
	} {
		if err := ts.jobs.SetResult(ctx, id, field, value); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}
	if err := ts.jobs.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestCreateJobEnqueuesRun(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"prompt": "Promote the mixing course", "targetDuration": 30, "voiceId": "narrator",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	id := decode[map[string]string](t, body)["jobId"]

	job, err := ts.jobs.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.StatusPending || job.AspectRatio != model.AspectPortrait || job.VoiceID != "narrator" {
		t.Fatalf("job = %+v", job)
	}
	if n, _ := ts.jobs.PendingRuns(context.Background(), id); n != 1 {
		t.Fatalf("pending runs = %d, want 1", n)
	}
}

func TestCreateJobValidation(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing prompt", map[string]any{"targetDuration": 30}},
		{"zero duration", map[string]any{"prompt": "p"}},
		{"too long", map[string]any{"prompt": "p", "targetDuration": 600}},
		{"bad aspect", map[string]any{"prompt": "p", "targetDuration": 30, "aspectRatio": "4:3"}},
		{"unknown voice", map[string]any{"prompt": "p", "targetDuration": 30, "voiceId": "robot"}},
		{"unknown source", map[string]any{"prompt": "p", "targetDuration": 30, "sourceId": "nope"}},
		{"unknown field", map[string]any{"prompt": "p", "targetDuration": 30, "colour": "red"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/v1/jobs", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", resp.StatusCode, body)
			}
		})
	}
}

func TestIterateCreatesNextVersion(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 20, "aspectRatio": "1:1"})
	parentID := decode[map[string]string](t, body)["jobId"]

	resp, body := ts.do(t, http.MethodPost, "/v1/jobs/"+parentID+"/iterate", map[string]any{"feedback": "faster cuts"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("iterate on unfinished parent = %d: %s", resp.StatusCode, body)
	}

	ts.complete(t, parentID)
	resp, body = ts.do(t, http.MethodPost, "/v1/jobs/"+parentID+"/iterate", map[string]any{"feedback": "faster cuts"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("iterate = %d: %s", resp.StatusCode, body)
	}
	created := decode[map[string]any](t, body)
	if created["version"] != float64(2) || created["rootJobId"] != parentID {
		t.Fatalf("created = %v", created)
	}
	child, err := ts.jobs.GetJob(context.Background(), created["jobId"].(string))
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if child.AspectRatio != model.AspectSquare || child.TargetDuration != 20 || child.IterationFeedback != "faster cuts" {
		t.Fatalf("child = %+v", child)
	}

	_, body = ts.do(t, http.MethodGet, "/v1/jobs/"+child.ID+"/versions", nil)
	var versions []int
	for _, v := range decode[[]jobView](t, body) {
		versions = append(versions, v.Version)
	}
	if diff := cmp.Diff([]int{1, 2}, versions); diff != "" {
		t.Fatalf("versions mismatch (-want +got):\n%s", diff)
	}
}

func TestIterateRequiresFeedbackAndParent(t *testing.T) {
	ts := newTestServer(t)
	if resp, _ := ts.do(t, http.MethodPost, "/v1/jobs/missing/iterate", map[string]any{"feedback": "x"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing parent = %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, http.MethodPost, "/v1/jobs/missing/iterate", map[string]any{"feedback": " "}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank feedback = %d", resp.StatusCode)
	}
}

func TestGetJobResolvesArtifactURLs(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 10})
	id := decode[map[string]string](t, body)["jobId"]
	ts.complete(t, id)

	resp, body := ts.do(t, http.MethodGet, "/v1/jobs/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	view := decode[jobView](t, body)
	if view.Status != model.StatusCompleted || view.Progress != 100 {
		t.Fatalf("view = %+v", view)
	}
	if !strings.HasPrefix(view.VideoURL, publicURL+"/v1/artifacts/jobs/"+id+"/") {
		t.Fatalf("videoUrl = %q", view.VideoURL)
	}

	resp, body = ts.do(t, http.MethodGet, strings.TrimPrefix(view.VideoURL, publicURL), nil)
	if resp.StatusCode != http.StatusOK || string(body) != "mp4-bytes" {
		t.Fatalf("artifact = %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type = %q", ct)
	}

	resp, body = ts.do(t, http.MethodGet, "/v1/jobs/"+id+"/subtitles.srt", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Hello") {
		t.Fatalf("subtitles = %d %q", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-subrip") {
		t.Fatalf("subtitle content type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestJobSubresourcesNotReady(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 10})
	id := decode[map[string]string](t, body)["jobId"]

	for _, path := range []string{"/v1/jobs/" + id + "/script", "/v1/jobs/" + id + "/subtitles.srt", "/v1/jobs/nope", "/v1/artifacts/jobs/x/missing.mp4"} {
		if resp, _ := ts.do(t, http.MethodGet, path, nil); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestGetScript(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, body := ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 10})
	id := decode[map[string]string](t, body)["jobId"]

	scriptID, err := ts.jobs.SaveScript(ctx, model.VideoScript{JobID: id, TotalDuration: 10, Scenes: []model.Scene{{ID: "hook", Duration: 10, Voiceover: "Hi."}}})
	if err != nil {
		t.Fatalf("save script: %v", err)
	}
	if err := ts.jobs.SetResult(ctx, id, model.FieldScriptID, scriptID); err != nil {
		t.Fatalf("link script: %v", err)
	}

	resp, body := ts.do(t, http.MethodGet, "/v1/jobs/"+id+"/script", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	script := decode[model.VideoScript](t, body)
	if script.ID != scriptID || len(script.Scenes) != 1 || script.Scenes[0].Voiceover != "Hi." {
		t.Fatalf("script = %+v", script)
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 10})
	}

	_, body := ts.do(t, http.MethodGet, "/v1/jobs?status=pending&limit=2", nil)
	if got := len(decode[[]jobView](t, body)); got != 2 {
		t.Fatalf("listed %d jobs, want 2", got)
	}
	for _, q := range []string{"?status=bogus", "?limit=0", "?limit=abc"} {
		if resp, _ := ts.do(t, http.MethodGet, "/v1/jobs"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET /v1/jobs%s = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestSources(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/v1/sources", map[string]any{
		"kind": "Course", "title": "Mixing Masterclass", "price": 49, "highlights": []string{"EQ", "Compression"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", resp.StatusCode, body)
	}
	created := decode[model.Source](t, body)
	if created.ID == "" || created.Kind != "course" {
		t.Fatalf("created = %+v", created)
	}

	_, body = ts.do(t, http.MethodGet, "/v1/sources/"+created.ID, nil)
	if got := decode[model.Source](t, body); got.Title != "Mixing Masterclass" || len(got.Highlights) != 2 {
		t.Fatalf("got = %+v", got)
	}

	resp, _ = ts.do(t, http.MethodPost, "/v1/jobs", map[string]any{"prompt": "p", "targetDuration": 10, "sourceId": created.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("job with source = %d", resp.StatusCode)
	}

	for _, bad := range []map[string]any{{"title": " "}, {"title": "x", "kind": "album"}, {"title": "x", "rating": 7}} {
		if resp, _ := ts.do(t, http.MethodPost, "/v1/sources", bad); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("source %v = %d, want 400", bad, resp.StatusCode)
		}
	}
	if resp, _ := ts.do(t, http.MethodGet, "/v1/sources/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing source = %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, "https://studio.example")

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/jobs", nil)
	req.Header.Set("Origin", "https://studio.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://studio.example" {
		t.Fatalf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
