package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/genai"

	"github.com/example/promo-studio/api-go/internal/model"
)

var (
	// ErrSpeechUnavailable means no speech provider is configured.
	ErrSpeechUnavailable = errors.New("speech synthesis unavailable")
	ErrEmptyResponse     = errors.New("empty response from provider")
)

type TextRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON object reply where supported.
	JSON bool
}

type TextGenerator interface {
	Generate(ctx context.Context, req TextRequest) (string, error)
}

type Image struct {
	Data        []byte
	ContentType string
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, aspect model.AspectRatio) (Image, error)
}

type Speech struct {
	Audio       []byte
	ContentType string
	Duration    float64
	Words       []model.WordTimestamp
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Speech, error)
}

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: timeouts, rate limits
// and server-side failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusRequestTimeout ||
			status.Code == http.StatusTooManyRequests ||
			status.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// fromGenAI maps genai API errors onto StatusError so callers classify
// every provider the same way.
func fromGenAI(provider string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: provider, Code: apiErr.Code, Body: apiErr.Message}
	}
	return fmt.Errorf("%s: %w", provider, err)
}
