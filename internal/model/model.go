package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ContextError reports a job input that cannot be resolved (unknown voice,
// missing source, bad duration). It is a property of the job, not of the
// attempt, so the orchestrator never retries it.
type ContextError struct {
	Field  string
	Reason string
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("invalid job context: %s: %s", e.Field, e.Reason)
}

// VideoJob is the durable record of one generation request.
//
//   - Handles (VideoHandle, ThumbnailHandle) are relative keys in the blob store.
//   - ParentJobID/IterationFeedback are only set on revisions; RootJobID groups
//     every version of the same video.
//   - Permanent marks a failure no retry can fix, such as bad input.
type VideoJob struct {
	ID                string      `json:"id"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
	Status            JobStatus   `json:"status"`
	Progress          int         `json:"progress"`
	Prompt            string      `json:"prompt"`
	Style             string      `json:"style,omitempty"`
	SourceID          string      `json:"sourceId,omitempty"`
	TargetDuration    int         `json:"targetDuration"`
	AspectRatio       AspectRatio `json:"aspectRatio"`
	VoiceID           string      `json:"voiceId,omitempty"`
	RetryCount        int         `json:"retryCount"`
	Permanent         bool        `json:"permanent,omitempty"`
	LastError         string      `json:"lastError,omitempty"`
	ScriptID          string      `json:"scriptId,omitempty"`
	GeneratedCode     string      `json:"generatedCode,omitempty"`
	UsedFallback      bool        `json:"usedFallback"`
	VideoHandle       string      `json:"videoHandle,omitempty"`
	ThumbnailHandle   string      `json:"thumbnailHandle,omitempty"`
	SubtitleText      string      `json:"subtitleText,omitempty"`
	CaptionText       string      `json:"captionText,omitempty"`
	ParentJobID       string      `json:"parentJobId,omitempty"`
	RootJobID         string      `json:"rootJobId"`
	Version           int         `json:"version"`
	IterationFeedback string      `json:"iterationFeedback,omitempty"`
}

// IsRevision reports whether the job edits a parent's code instead of
// generating from scratch.
func (j VideoJob) IsRevision() bool {
	return j.ParentJobID != "" && j.IterationFeedback != ""
}

// Failure is one failed attempt as reported to the job store.
type Failure struct {
	// Attempt is the retry count observed when the attempt started.
	Attempt    int
	Message    string
	Permanent  bool
	MaxRetries int
	// RetryAt schedules the next run when set and retries remain.
	RetryAt time.Time
}

// FailureOutcome is what recording a Failure did to the job.
type FailureOutcome struct {
	RetryCount     int
	Permanent      bool
	RetryScheduled bool
}

// Retryable reports whether a failed job still owes the caller an attempt.
func (j VideoJob) Retryable(maxRetries int) bool {
	return j.Status == StatusFailed && !j.Permanent && j.RetryCount < maxRetries
}

// JobInputs are the declarative fields accepted at submission.
type JobInputs struct {
	Prompt            string
	Style             string
	SourceID          string
	TargetDuration    int
	AspectRatio       AspectRatio
	VoiceID           string
	ParentJobID       string
	IterationFeedback string
}

// ResultField names a job column written incrementally by a stage.
type ResultField string

const (
	FieldScriptID     ResultField = "script_id"
	FieldCode         ResultField = "generated_code"
	FieldUsedFallback ResultField = "used_fallback"
	FieldVideo        ResultField = "video_handle"
	FieldThumbnail    ResultField = "thumbnail_handle"
	FieldSubtitles    ResultField = "subtitle_text"
	FieldCaption      ResultField = "caption_text"
)

func (f ResultField) Valid() bool {
	switch f {
	case FieldScriptID, FieldCode, FieldUsedFallback, FieldVideo, FieldThumbnail, FieldSubtitles, FieldCaption:
		return true
	}
	return false
}

// Source is catalog content (a course, product or store) a brief can
// reference so the script quotes real titles, prices and stats.
type Source struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Category    string    `json:"category,omitempty"`
	Highlights  []string  `json:"highlights,omitempty"`
	Sales       int       `json:"sales,omitempty"`
	Reviews     int       `json:"reviews,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
}
