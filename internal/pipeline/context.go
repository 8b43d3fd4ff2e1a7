package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/example/promo-studio/api-go/internal/model"
)

// ContextGatherer resolves a job's declarative inputs. It only reads.
type ContextGatherer struct {
	Store JobStore
	// Voices maps accepted voice names to provider voice ids.
	Voices map[string]string
}

func (g ContextGatherer) Gather(ctx context.Context, job model.VideoJob) (JobContext, error) {
	if job.TargetDuration <= 0 {
		return JobContext{}, &model.ContextError{Field: "targetDuration", Reason: "must be positive"}
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return JobContext{}, &model.ContextError{Field: "prompt", Reason: "is empty"}
	}
	voiceID, err := g.resolveVoice(job.VoiceID)
	if err != nil {
		return JobContext{}, err
	}

	out := JobContext{
		JobID:          job.ID,
		Prompt:         strings.TrimSpace(job.Prompt),
		Style:          strings.TrimSpace(job.Style),
		TargetDuration: job.TargetDuration,
		AspectRatio:    job.AspectRatio,
		VoiceID:        voiceID,
	}

	if job.SourceID != "" {
		src, err := g.Store.GetSource(ctx, job.SourceID)
		if errors.Is(err, model.ErrNotFound) {
			return JobContext{}, &model.ContextError{Field: "sourceId", Reason: "unknown source " + job.SourceID}
		}
		if err != nil {
			return JobContext{}, err
		}
		out.Source = &src
	}

	if job.ParentJobID != "" {
		if strings.TrimSpace(job.IterationFeedback) == "" {
			return JobContext{}, &model.ContextError{Field: "iterationFeedback", Reason: "required for a revision"}
		}
		parent, err := g.Store.GetJob(ctx, job.ParentJobID)
		if errors.Is(err, model.ErrNotFound) {
			return JobContext{}, &model.ContextError{Field: "parentJobId", Reason: "parent job does not exist"}
		}
		if err != nil {
			return JobContext{}, err
		}
		if parent.CompletedAt == nil || parent.GeneratedCode == "" {
			return JobContext{}, &model.ContextError{Field: "parentJobId", Reason: "parent job has never completed"}
		}
		out.PreviousCode = parent.GeneratedCode
		out.Feedback = strings.TrimSpace(job.IterationFeedback)
	}
	return out, nil
}

// resolveVoice accepts a catalog name or a provider id listed in the
// catalog. An empty selector means no narration.
func (g ContextGatherer) resolveVoice(selector string) (string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return "", nil
	}
	if id, ok := g.Voices[selector]; ok {
		return id, nil
	}
	for _, id := range g.Voices {
		if id == selector {
			return id, nil
		}
	}
	return "", &model.ContextError{Field: "voiceId", Reason: "unknown voice " + selector}
}
