package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/example/promo-studio/api-go/internal/model"
)

// imagesAPI is the slice of genai.Models the image client needs.
type imagesAPI interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// Imagen generates stills with the Gemini API image models.
type Imagen struct {
	models imagesAPI
	model  string
}

func NewImagen(ctx context.Context, apiKey, modelName string) (*Imagen, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Imagen{models: client.Models, model: modelName}, nil
}

func (i *Imagen) Generate(ctx context.Context, prompt string, aspect model.AspectRatio) (Image, error) {
	if !aspect.Valid() {
		aspect = model.AspectPortrait
	}
	resp, err := i.models.GenerateImages(ctx, i.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    string(aspect),
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return Image{}, fromGenAI("imagen", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return Image{}, ErrEmptyResponse
	}
	img := resp.GeneratedImages[0].Image
	if img == nil || len(img.ImageBytes) == 0 {
		if reason := resp.GeneratedImages[0].RAIFilteredReason; reason != "" {
			return Image{}, fmt.Errorf("imagen: filtered: %s", reason)
		}
		return Image{}, ErrEmptyResponse
	}
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	return Image{Data: img.ImageBytes, ContentType: contentType}, nil
}
