package ai

import (
	"context"
	"strings"

	gkai "github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"google.golang.org/genai"
)

// GenkitText generates text through a genkit instance with the Google AI
// plugin. Model names carry the plugin prefix, e.g. googleai/gemini-2.5-flash.
type GenkitText struct {
	g     *genkit.Genkit
	model string
}

func NewGenkitText(ctx context.Context, apiKey, modelName string) *GenkitText {
	g := genkit.Init(ctx, genkit.WithPlugins(
		&googlegenai.GoogleAI{APIKey: apiKey},
	))
	if !strings.Contains(modelName, "/") {
		modelName = "googleai/" + modelName
	}
	return &GenkitText{g: g, model: modelName}
}

func (t *GenkitText) Generate(ctx context.Context, req TextRequest) (string, error) {
	messages := []*gkai.Message{}
	if req.System != "" {
		messages = append(messages, gkai.NewSystemTextMessage(req.System))
	}
	messages = append(messages, gkai.NewUserTextMessage(req.Prompt))

	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	text, err := genkit.GenerateText(ctx, t.g,
		gkai.WithModelName(t.model),
		gkai.WithMessages(messages...),
		gkai.WithConfig(cfg),
	)
	if err != nil {
		return "", fromGenAI("genkit", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
