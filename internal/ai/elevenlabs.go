package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/example/promo-studio/api-go/internal/model"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabs synthesizes narration with character alignment, which is
// folded into word timestamps.
type ElevenLabs struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewElevenLabs(apiKey, modelName string) *ElevenLabs {
	return &ElevenLabs{
		APIKey:  apiKey,
		Model:   modelName,
		BaseURL: elevenLabsBaseURL,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type alignment struct {
	Characters []string  `json:"characters"`
	Starts     []float64 `json:"character_start_times_seconds"`
	Ends       []float64 `json:"character_end_times_seconds"`
}

type timestampsResponse struct {
	AudioBase64 string     `json:"audio_base64"`
	Alignment   *alignment `json:"alignment"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	if e == nil || e.APIKey == "" {
		return Speech{}, ErrSpeechUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return Speech{}, fmt.Errorf("elevenlabs: empty text")
	}
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.Model,
	})
	if err != nil {
		return Speech{}, err
	}
	endpoint := strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) +
		"/with-timestamps?output_format=mp3_44100_128"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Speech{}, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Speech{}, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Speech{}, fmt.Errorf("elevenlabs: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Speech{}, &StatusError{Provider: "elevenlabs", Code: resp.StatusCode, Body: truncate(string(raw), 500)}
	}
	var decoded timestampsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Speech{}, fmt.Errorf("elevenlabs: decode: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioBase64)
	if err != nil {
		return Speech{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return Speech{}, ErrEmptyResponse
	}

	speech := Speech{Audio: audio, ContentType: "audio/mpeg"}
	if decoded.Alignment != nil {
		speech.Words = wordsFromAlignment(*decoded.Alignment)
		if n := len(decoded.Alignment.Ends); n > 0 {
			speech.Duration = decoded.Alignment.Ends[n-1]
		}
	}
	return speech, nil
}

// wordsFromAlignment groups per-character timings into whitespace-separated
// words.
func wordsFromAlignment(a alignment) []model.WordTimestamp {
	n := min(len(a.Characters), len(a.Starts), len(a.Ends))
	var (
		words   []model.WordTimestamp
		current strings.Builder
		start   float64
		end     float64
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, model.WordTimestamp{Word: current.String(), Start: start, End: end})
			current.Reset()
		}
	}
	for i := 0; i < n; i++ {
		ch := a.Characters[i]
		if strings.TrimFunc(ch, unicode.IsSpace) == "" {
			flush()
			continue
		}
		if current.Len() == 0 {
			start = a.Starts[i]
		}
		current.WriteString(ch)
		end = a.Ends[i]
	}
	flush()
	return words
}
