package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/promo-studio/api-go/internal/ai"
	"github.com/example/promo-studio/api-go/internal/model"
)

var errInvalidScript = errors.New("invalid script")

// ScriptGenerator asks the text model for a structured script and stores it.
type ScriptGenerator struct {
	Text        ai.TextGenerator
	Store       JobStore
	Logger      *slog.Logger
	MaxAttempts int
	Backoff     time.Duration
}

func (s ScriptGenerator) Generate(ctx context.Context, jc JobContext) (ScriptResult, error) {
	if s.Text == nil {
		return ScriptResult{}, errors.New("script: no text generator configured")
	}
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var (
		script  model.VideoScript
		prompts []string
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		prompt := scriptUserPrompt(jc)
		if attempt > 1 {
			prompt = simplifiedScriptPrompt(jc)
		}
		raw, err := s.Text.Generate(ctx, ai.TextRequest{
			System:      scriptSystemPrompt,
			Prompt:      prompt,
			Temperature: 0.6,
			MaxTokens:   4000,
			JSON:        true,
		})
		if err == nil {
			script, prompts, err = parseScript(raw, jc.TargetDuration)
		}
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ScriptResult{}, ctxErr
		}
		if !ai.IsTransient(err) && !errors.Is(err, errInvalidScript) {
			return ScriptResult{}, fmt.Errorf("script: %w", err)
		}
		orDefault(s.Logger).WarnContext(ctx, "script attempt failed",
			slog.String("job_id", jc.JobID), slog.Int("attempt", attempt), slog.String("error", err.Error()))
		if attempt < attempts && s.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ScriptResult{}, ctx.Err()
			case <-time.After(s.Backoff * time.Duration(attempt)):
			}
		}
	}
	if lastErr != nil {
		return ScriptResult{}, fmt.Errorf("script: %d attempts failed: %w", attempts, lastErr)
	}

	script.JobID = jc.JobID
	scriptID, err := s.Store.SaveScript(ctx, script)
	if err != nil {
		return ScriptResult{}, fmt.Errorf("script: save: %w", err)
	}
	script.ID = scriptID
	if err := s.Store.SetResult(ctx, jc.JobID, model.FieldScriptID, scriptID); err != nil {
		return ScriptResult{}, fmt.Errorf("script: link: %w", err)
	}

	return ScriptResult{
		ScriptID:      scriptID,
		Script:        script,
		ImagePrompts:  prompts,
		VoiceoverText: script.VoiceoverText(),
	}, nil
}

type scriptReply struct {
	TotalDuration int                `json:"totalDuration"`
	Scenes        []model.Scene      `json:"scenes"`
	ColorPalette  model.ColorPalette `json:"colorPalette"`
	ImagePrompts  []string           `json:"imagePrompts"`
}

// parseScript validates a model reply and returns the script plus its image
// prompts in scene order.
func parseScript(raw string, targetDuration int) (model.VideoScript, []string, error) {
	var reply scriptReply
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &reply); err != nil {
		return model.VideoScript{}, nil, fmt.Errorf("%w: %v", errInvalidScript, err)
	}
	if len(reply.Scenes) == 0 {
		return model.VideoScript{}, nil, fmt.Errorf("%w: no scenes", errInvalidScript)
	}

	script := model.VideoScript{
		TotalDuration: targetDuration,
		Scenes:        reply.Scenes,
		Palette:       reply.ColorPalette,
	}
	if script.Palette.Primary == "" || script.Palette.Background == "" {
		script.Palette = model.DefaultPalette
	}
	spoken := 0
	for i := range script.Scenes {
		scene := &script.Scenes[i]
		scene.ID = strings.TrimSpace(scene.ID)
		if scene.ID == "" {
			scene.ID = fmt.Sprintf("scene-%d", i+1)
		}
		if strings.TrimSpace(scene.Voiceover) != "" || scene.OnScreen.Headline != "" {
			spoken++
		}
	}
	if spoken == 0 {
		return model.VideoScript{}, nil, fmt.Errorf("%w: scenes carry no text", errInvalidScript)
	}
	fitDurations(script.Scenes, targetDuration)

	var prompts []string
	for _, scene := range script.Scenes {
		if p := strings.TrimSpace(scene.ImagePrompt); p != "" {
			prompts = append(prompts, p)
		}
	}
	if len(prompts) == 0 {
		for _, p := range reply.ImagePrompts {
			if p = strings.TrimSpace(p); p != "" {
				prompts = append(prompts, p)
			}
		}
	}
	return script, prompts, nil
}

// fitDurations fills missing scene durations and puts any difference from
// the target on the last scene so scene frames add up to the video length.
func fitDurations(scenes []model.Scene, target int) {
	if target <= 0 || len(scenes) == 0 {
		return
	}
	known, missing := 0, 0
	for _, scene := range scenes {
		if scene.Duration > 0 {
			known += scene.Duration
		} else {
			missing++
		}
	}
	if missing > 0 {
		share := max((target-known)/missing, 1)
		for i := range scenes {
			if scenes[i].Duration <= 0 {
				scenes[i].Duration = share
			}
		}
	}
	total := 0
	for _, scene := range scenes {
		total += scene.Duration
	}
	last := &scenes[len(scenes)-1]
	if diff := target - total; last.Duration+diff >= 1 {
		last.Duration += diff
	}
}

// cleanJSON strips markdown fences and any prose around the outermost
// JSON object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

const scriptSystemPrompt = `You write structured scripts for short animated promo videos.

Return one JSON object:
{
  "totalDuration": <seconds>,
  "scenes": [
    {
      "id": "<hook|problem|solution|proof|features|cta>",
      "duration": <seconds>,
      "voiceover": "<narration for this scene>",
      "onScreenText": {
        "headline": "<main text>",
        "subhead": "<secondary text>",
        "bulletPoints": ["<optional>"],
        "emphasis": ["<words to animate>"]
      },
      "imagePrompt": "<cinematic still for this scene, omit for text-only scenes>",
      "visualDirection": "<how the scene looks>",
      "mood": "<intrigue|frustration|excitement|authority|urgency|celebration|educational>"
    }
  ],
  "colorPalette": {"primary": "#hex", "secondary": "#hex", "accent": "#hex", "background": "#hex"}
}

Pacing: hook 3-5s, problem 5-10s, solution 8-15s, proof 5-10s, features 8-15s, cta 5-8s.
Image prompts: cinematic lighting, dark moody atmosphere, professional, one per scene at most.
Writing: direct, confident, short punchy hook lines, no generic marketing filler.`

func scriptUserPrompt(jc JobContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a video script based on the following:\n\n")
	fmt.Fprintf(&b, "Brief: %q\n", jc.Prompt)
	fmt.Fprintf(&b, "Target duration: %d seconds\n", jc.TargetDuration)
	fmt.Fprintf(&b, "Aspect ratio: %s\n", jc.AspectRatio)
	if jc.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", jc.Style)
	}
	if src := jc.Source; src != nil {
		fmt.Fprintf(&b, "\n## %s\n", sourceHeading(src.Kind))
		fmt.Fprintf(&b, "- Title: %s\n", src.Title)
		if src.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", src.Description)
		}
		if src.Price > 0 {
			fmt.Fprintf(&b, "- Price: $%.2f\n", src.Price)
		}
		if src.Category != "" {
			fmt.Fprintf(&b, "- Category: %s\n", src.Category)
		}
		if len(src.Highlights) > 0 {
			fmt.Fprintf(&b, "- Highlights: %s\n", strings.Join(src.Highlights, ", "))
		}
		if src.Sales > 0 || src.Reviews > 0 {
			fmt.Fprintf(&b, "\n## Social Proof\n")
			if src.Sales > 0 {
				fmt.Fprintf(&b, "- Total Sales: %d\n", src.Sales)
			}
			if src.Reviews > 0 {
				fmt.Fprintf(&b, "- Total Reviews: %d\n", src.Reviews)
			}
			if src.Rating > 0 {
				fmt.Fprintf(&b, "- Average Rating: %.1f/5\n", src.Rating)
			}
		}
	}
	fmt.Fprintf(&b, "\nScene durations must add up to about %d seconds.", jc.TargetDuration)
	return b.String()
}

func simplifiedScriptPrompt(jc JobContext) string {
	title := "the product"
	if jc.Source != nil && jc.Source.Title != "" {
		title = jc.Source.Title
	}
	return fmt.Sprintf("Write a simple %d-second promo video script for %q. Brief: %s. "+
		"Use 4-5 scenes: hook, problem, solution, proof, cta. Keep it concise. Return valid JSON in the required format.",
		jc.TargetDuration, title, jc.Prompt)
}

func sourceHeading(kind string) string {
	switch strings.ToLower(kind) {
	case "course":
		return "Course Data"
	case "store":
		return "Creator Store"
	default:
		return "Product Data"
	}
}
