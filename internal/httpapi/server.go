package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/promo-studio/api-go/internal/blob"
	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/pipeline"
	"github.com/example/promo-studio/api-go/internal/store"
)

const (
	maxTargetDuration = 180
	maxBodyBytes      = 1 << 20
)

type Server struct {
	Blobs  blob.LocalFS
	Jobs   *store.SQLite
	Queue  pipeline.Scheduler
	Voices map[string]string
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string
	Logger      *slog.Logger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors(s.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/iterate", s.handleIterate)
		r.Get("/jobs/{id}/versions", s.handleListVersions)
		r.Get("/jobs/{id}/script", s.handleGetScript)
		r.Get("/jobs/{id}/subtitles.srt", s.handleGetSubtitles)
		r.Post("/sources", s.handleCreateSource)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Get("/artifacts/*", s.handleGetArtifact)
	})

	return r
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAny := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAny = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAny {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type createJobRequest struct {
	Prompt         string `json:"prompt"`
	Style          string `json:"style"`
	SourceID       string `json:"sourceId"`
	TargetDuration int    `json:"targetDuration"`
	AspectRatio    string `json:"aspectRatio"`
	VoiceID        string `json:"voiceId"`
}

func (s Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	in := model.JobInputs{
		Prompt:         strings.TrimSpace(req.Prompt),
		Style:          strings.TrimSpace(req.Style),
		SourceID:       strings.TrimSpace(req.SourceID),
		TargetDuration: req.TargetDuration,
		AspectRatio:    model.AspectRatio(strings.TrimSpace(req.AspectRatio)),
		VoiceID:        strings.TrimSpace(req.VoiceID),
	}
	if in.AspectRatio == "" {
		in.AspectRatio = model.AspectPortrait
	}
	switch {
	case in.Prompt == "":
		writeErr(w, http.StatusBadRequest, fmt.Errorf("prompt is required"))
		return
	case in.TargetDuration < 1 || in.TargetDuration > maxTargetDuration:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("targetDuration must be between 1 and %d seconds", maxTargetDuration))
		return
	case !in.AspectRatio.Valid():
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid aspectRatio: %s", in.AspectRatio))
		return
	case in.VoiceID != "" && !s.knownVoice(in.VoiceID):
		writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown voiceId: %s", in.VoiceID))
		return
	}
	if in.SourceID != "" {
		if _, err := s.Jobs.GetSource(ctx, in.SourceID); err != nil {
			writeErr(w, statusFor(err, http.StatusBadRequest), fmt.Errorf("sourceId: %w", err))
			return
		}
	}

	id, err := s.Jobs.CreateJob(ctx, in)
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), fmt.Errorf("create job: %w", err))
		return
	}
	if err := s.Queue.Enqueue(ctx, id, 0); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("enqueue job: %w", err))
		return
	}
	s.logger().InfoContext(ctx, "job submitted", slog.String("job_id", id), slog.Int("target_duration", in.TargetDuration))

	writeJSON(w, http.StatusCreated, map[string]any{"jobId": id, "status": model.StatusPending})
}

type iterateRequest struct {
	Feedback string `json:"feedback"`
}

// handleIterate creates a revision of a completed job that edits its code
// according to the feedback.
func (s Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parentID := chi.URLParam(r, "id")
	var req iterateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	feedback := strings.TrimSpace(req.Feedback)
	if feedback == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("feedback is required"))
		return
	}

	parent, err := s.Jobs.GetJob(ctx, parentID)
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	id, err := s.Jobs.CreateJob(ctx, model.JobInputs{
		Prompt:            parent.Prompt,
		Style:             parent.Style,
		SourceID:          parent.SourceID,
		TargetDuration:    parent.TargetDuration,
		AspectRatio:       parent.AspectRatio,
		VoiceID:           parent.VoiceID,
		ParentJobID:       parent.ID,
		IterationFeedback: feedback,
	})
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if err := s.Queue.Enqueue(ctx, id, 0); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("enqueue job: %w", err))
		return
	}
	job, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.logger().InfoContext(ctx, "revision submitted",
		slog.String("job_id", id), slog.String("parent_job_id", parent.ID), slog.Int("version", job.Version))

	writeJSON(w, http.StatusCreated, map[string]any{"jobId": id, "version": job.Version, "rootJobId": job.RootJobID})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	job, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	writeJSON(w, http.StatusOK, s.jobResponse(job))
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var status *model.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := model.JobStatus(raw)
		if !model.IsKnownStatus(parsed) {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s", raw))
			return
		}
		status = &parsed
	}

	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", raw))
			return
		}
		if value > 100 {
			value = 100
		}
		limit = value
	}

	jobs, err := s.Jobs.ListJobs(ctx, status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, s.jobResponses(jobs))
}

func (s Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.Jobs.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	versions, err := s.Jobs.ListVersions(ctx, job.RootJobID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, s.jobResponses(versions))
}

func (s Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.Jobs.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if job.ScriptID == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("script not ready"))
		return
	}
	script, err := s.Jobs.GetScript(ctx, job.ScriptID)
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	writeJSON(w, http.StatusOK, script)
}

func (s Server) handleGetSubtitles(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	if job.SubtitleText == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("subtitles not available"))
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".srt"))
	_, _ = io.WriteString(w, job.SubtitleText)
}

var sourceKinds = map[string]bool{"course": true, "product": true, "store": true}

func (s Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var src model.Source
	if err := decodeJSON(w, r, &src); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	src.Title = strings.TrimSpace(src.Title)
	src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
	if src.Kind == "" {
		src.Kind = "product"
	}
	switch {
	case src.Title == "":
		writeErr(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	case !sourceKinds[src.Kind]:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid kind: %s", src.Kind))
		return
	case src.Price < 0 || src.Rating < 0 || src.Rating > 5:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("price and rating must be in range"))
		return
	}

	created, err := s.Jobs.CreateSource(r.Context(), src)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("create source: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.Jobs.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if handle == "" || !s.Blobs.Exists(handle) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("artifact not found"))
		return
	}
	f, err := s.Blobs.Open(handle)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	contentType := blob.ContentType(handle)
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		contentType = http.DetectContentType(buf[:n])
		if mimeType := mime.TypeByExtension(path.Ext(handle)); mimeType != "" {
			if contentType == "application/octet-stream" || strings.HasPrefix(contentType, "text/plain") {
				contentType = mimeType
			}
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, path.Base(handle), info.ModTime(), f)
}

func (s Server) knownVoice(selector string) bool {
	if _, ok := s.Voices[selector]; ok {
		return true
	}
	for _, id := range s.Voices {
		if id == selector {
			return true
		}
	}
	return false
}

func (s Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type jobView struct {
	model.VideoJob
	VideoURL     string `json:"videoUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func (s Server) jobResponse(job model.VideoJob) jobView {
	view := jobView{VideoJob: job}
	if job.VideoHandle != "" {
		view.VideoURL, _ = s.Blobs.ResolveURL(job.VideoHandle)
	}
	if job.ThumbnailHandle != "" {
		view.ThumbnailURL, _ = s.Blobs.ResolveURL(job.ThumbnailHandle)
	}
	return view
}

func (s Server) jobResponses(jobs []model.VideoJob) []jobView {
	resp := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, s.jobResponse(job))
	}
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusFor maps store errors to HTTP codes, using fallback for anything
// unrecognised.
func statusFor(err error, fallback int) int {
	var ctxErr *model.ContextError
	switch {
	case errors.Is(err, model.ErrNotFound):
		if fallback == http.StatusBadRequest {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case errors.As(err, &ctxErr):
		return http.StatusConflict
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
