package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/promo-studio/api-go/internal/ai"
	"github.com/example/promo-studio/api-go/internal/model"
)

type CodeInput struct {
	JobID       string
	Script      model.VideoScript
	ImageURLs   []string
	Audio       *AudioInput
	AspectRatio model.AspectRatio
	Duration    int
	// PreviousCode and Feedback turn the request into an edit of an
	// earlier version.
	PreviousCode string
	Feedback     string
}

// CodeGenerator writes the composition code. When the model cannot produce
// valid code the deterministic fallback template is used instead, so the
// stage only fails on cancellation or a store write error.
type CodeGenerator struct {
	Text        ai.TextGenerator
	Store       JobStore
	Logger      *slog.Logger
	MaxAttempts int
}

func (c CodeGenerator) Generate(ctx context.Context, in CodeInput) (CodeResult, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	log := orDefault(c.Logger).With(slog.String("job_id", in.JobID), slog.String("stage", "generating_code"))

	if c.Text != nil {
		system := codeSystemPrompt(in.AspectRatio.Dimensions())
		base := codeUserPrompt(in)
		var lastErrors []string
		for attempt := 1; attempt <= attempts; attempt++ {
			prompt := base
			if len(lastErrors) > 0 {
				prompt += "\n\n## Fix these issues from the previous attempt\n- " + strings.Join(lastErrors, "\n- ") +
					"\n\nOutput the corrected code."
			}
			raw, err := c.Text.Generate(ctx, ai.TextRequest{
				System:      system,
				Prompt:      prompt,
				Temperature: 0.3,
				MaxTokens:   12000,
			})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return CodeResult{}, ctxErr
			}
			if err != nil {
				log.WarnContext(ctx, "code attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
				lastErrors = []string{err.Error()}
				continue
			}
			code := ExtractCode(raw)
			problems := ValidateCode(code)
			if len(problems) == 0 {
				return c.persist(ctx, in.JobID, CodeResult{Code: code})
			}
			log.WarnContext(ctx, "generated code rejected", slog.Int("attempt", attempt), slog.Any("problems", problems))
			lastErrors = problems
			if len(SecurityViolations(code)) > 0 {
				break
			}
		}
	}

	log.InfoContext(ctx, "using fallback composition")
	code := FallbackCode(in.Script, in.ImageURLs, in.Audio != nil, model.TotalFrames(in.Duration))
	return c.persist(ctx, in.JobID, CodeResult{Code: code, UsedFallback: true})
}

func (c CodeGenerator) persist(ctx context.Context, jobID string, res CodeResult) (CodeResult, error) {
	if err := c.Store.SetResult(ctx, jobID, model.FieldCode, res.Code); err != nil {
		return CodeResult{}, fmt.Errorf("code: save: %w", err)
	}
	if err := c.Store.SetResult(ctx, jobID, model.FieldUsedFallback, fmt.Sprint(res.UsedFallback)); err != nil {
		return CodeResult{}, fmt.Errorf("code: save: %w", err)
	}
	return res, nil
}

func codeSystemPrompt(dims model.Dimensions) string {
	return fmt.Sprintf(`You generate Remotion composition code for short promo videos.

Output ONLY a JavaScript function body, no markdown and no explanation. It runs as
new Function("React", "Remotion", "Components", "Theme", "images", "audioUrl", code)
and must RETURN a React component; the last line is "return MyVideo;".

Available:
- Remotion: AbsoluteFill, Sequence, useCurrentFrame, useVideoConfig, spring, interpolate, Img, Audio
- Components: CenterScene, Content, FadeUp, useExit, BG, CinematicBG, GlowOrb, GridPattern, ScanLine,
  FeatureCard, StepRow, ReasonCard, TierCard, StatCounter, StatBlock, StatBig, WaveformVisual,
  GradientText, SectionLabel, CTAButton, LogoIcon, ConnectorLine
- Theme: C (colors), F (font family)

Rules:
1. Use images by index (images[0], images[1], ...).
2. If audioUrl is provided, add <Audio src={audioUrl} /> in the first Sequence.
3. Scene durations match the script exactly (scene seconds x %[3]d = frames).
4. Every scene except the last exits with useExit about 25 frames before it ends.
5. Use the provided palette.
6. No fetch(), eval(), require(), import(), process., fs., child_process.
7. Total frames across Sequences equal the requested total.

Dimensions: %[1]dx%[2]d at %[3]dfps.`, dims.Width, dims.Height, model.FPS)
}

func codeUserPrompt(in CodeInput) string {
	totalFrames := model.TotalFrames(in.Duration)
	dims := in.AspectRatio.Dimensions()

	var b strings.Builder
	b.WriteString("Generate a Remotion composition for this script.\n\n")
	fmt.Fprintf(&b, "## Video\n- Total: %d frames (%ds at %dfps)\n- Dimensions: %dx%d\n\n",
		totalFrames, in.Duration, model.FPS, dims.Width, dims.Height)

	p := in.Script.Palette
	fmt.Fprintf(&b, "## Palette\n- Primary: %s\n- Secondary: %s\n- Accent: %s\n- Background: %s\n\n",
		p.Primary, p.Secondary, p.Accent, p.Background)

	b.WriteString("## Scenes\n")
	offset := 0
	for _, scene := range in.Script.Scenes {
		frames := scene.Duration * model.FPS
		fmt.Fprintf(&b, "### Scene %q (%d frames, from=%d, mood: %s)\n", scene.ID, frames, offset, scene.Mood)
		if scene.OnScreen.Headline != "" {
			fmt.Fprintf(&b, "  Headline: %q\n", scene.OnScreen.Headline)
		}
		if scene.OnScreen.Subhead != "" {
			fmt.Fprintf(&b, "  Subhead: %q\n", scene.OnScreen.Subhead)
		}
		for _, point := range scene.OnScreen.BulletPoints {
			fmt.Fprintf(&b, "  - %q\n", point)
		}
		if len(scene.OnScreen.Emphasis) > 0 {
			fmt.Fprintf(&b, "  Emphasis: %s\n", strings.Join(scene.OnScreen.Emphasis, ", "))
		}
		if scene.VisualDirection != "" {
			fmt.Fprintf(&b, "  Visual direction: %s\n", scene.VisualDirection)
		}
		if scene.Voiceover != "" {
			fmt.Fprintf(&b, "  Voiceover: %q\n", scene.Voiceover)
		}
		b.WriteString("\n")
		offset += frames
	}

	fmt.Fprintf(&b, "## Images (%d)\n", len(in.ImageURLs))
	for i, url := range in.ImageURLs {
		fmt.Fprintf(&b, "  images[%d]: %s\n", i, url)
	}
	b.WriteString("\n")

	if in.Audio != nil {
		fmt.Fprintf(&b, "## Audio\naudioUrl is available. Duration: %.1fs\n", in.Audio.Duration)
		if n := len(in.Audio.Words); n > 0 {
			preview := make([]string, 0, 10)
			for _, w := range in.Audio.Words[:min(n, 10)] {
				preview = append(preview, fmt.Sprintf("%q @%.2fs", w.Word, w.Start))
			}
			fmt.Fprintf(&b, "Word timestamps: %d words. First: %s\n", n, strings.Join(preview, ", "))
		}
	} else {
		b.WriteString("## Audio\nNo audio. This is a text-only video.\n")
	}

	if in.PreviousCode != "" && in.Feedback != "" {
		b.WriteString("\n## Iteration: modify the previous version\n")
		fmt.Fprintf(&b, "Requested changes: %q\n\n", in.Feedback)
		b.WriteString("Previous code:\n```\n")
		b.WriteString(in.PreviousCode)
		b.WriteString("\n```\n\nOutput the FULL modified code, not a diff. Apply only the requested changes.\n")
	}
	return b.String()
}
