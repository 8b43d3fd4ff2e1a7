package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/example/promo-studio/api-go/internal/ai"
)

// VoiceSynthesizer narrates the voiceover. Narration is optional, so every
// failure becomes a skipped result.
type VoiceSynthesizer struct {
	Speech    ai.SpeechSynthesizer
	Artifacts Artifacts
	Logger    *slog.Logger
}

func (v VoiceSynthesizer) Synthesize(ctx context.Context, jobID, text, voiceID string) Result[*Voiceover] {
	switch {
	case voiceID == "":
		return Degrade[*Voiceover](nil, "no voice configured")
	case v.Speech == nil:
		return Degrade[*Voiceover](nil, "speech synthesis not configured")
	case strings.TrimSpace(text) == "":
		return Degrade[*Voiceover](nil, "script has no voiceover text")
	}

	speech, err := v.Speech.Synthesize(ctx, text, voiceID)
	if err != nil {
		reason := "speech synthesis failed: " + err.Error()
		if errors.Is(err, ai.ErrSpeechUnavailable) {
			reason = "speech synthesis unavailable"
		}
		orDefault(v.Logger).WarnContext(ctx, "voice skipped", slog.String("job_id", jobID), slog.String("reason", reason))
		return Degrade[*Voiceover](nil, reason)
	}

	contentType := speech.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	handle, err := v.Artifacts.Upload(ctx, jobID, speech.Audio, contentType)
	if err != nil {
		orDefault(v.Logger).WarnContext(ctx, "voice upload failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return Degrade[*Voiceover](nil, "audio upload failed: "+err.Error())
	}
	return Complete(&Voiceover{
		AudioHandle: handle,
		Duration:    speech.Duration,
		Words:       speech.Words,
	})
}
