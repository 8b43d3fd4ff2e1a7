package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/promo-studio/api-go/internal/config"
)

// Clients bundles the provider capabilities the pipeline depends on. A nil
// Text or Images means that capability is not configured.
type Clients struct {
	Text   TextGenerator
	Images ImageGenerator
	Speech SpeechSynthesizer
}

func NewClientsFromConfig(ctx context.Context, cfg config.Config) (Clients, error) {
	var out Clients

	provider := strings.ToLower(strings.TrimSpace(cfg.TextProvider))
	switch {
	case provider == "openrouter" && cfg.OpenRouterAPIKey != "":
		out.Text = NewOpenRouterText(cfg.OpenRouterAPIKey, cfg.TextModel)
	case provider == "genkit" && cfg.GoogleAPIKey != "":
		out.Text = NewGenkitText(ctx, cfg.GoogleAPIKey, cfg.TextModel)
	case provider != "openrouter" && provider != "genkit":
		return Clients{}, fmt.Errorf("unknown TEXT_PROVIDER %q", cfg.TextProvider)
	case cfg.GoogleAPIKey != "":
		out.Text = NewGenkitText(ctx, cfg.GoogleAPIKey, "googleai/gemini-2.5-flash")
	case cfg.OpenRouterAPIKey != "":
		out.Text = NewOpenRouterText(cfg.OpenRouterAPIKey, "anthropic/claude-sonnet-4.5")
	}

	if cfg.GoogleAPIKey != "" {
		images, err := NewImagen(ctx, cfg.GoogleAPIKey, cfg.ImageModel)
		if err != nil {
			return Clients{}, err
		}
		out.Images = images
	}

	out.Speech = NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel)
	return out, nil
}
