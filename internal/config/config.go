package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string
	DataDir           string
	BaseURL           string
	CORSOrigins       []string
	LogLevel          string
	WorkerConcurrency int
	PollInterval      time.Duration
	RetryDelay        time.Duration
	MaxRetries        int

	TextProvider     string
	TextModel        string
	GoogleAPIKey     string
	OpenRouterAPIKey string
	ImageModel       string

	ElevenLabsAPIKey string
	ElevenLabsModel  string
	// Voices maps a voice name accepted on submission to the provider's voice id.
	Voices map[string]string

	RenderCommand []string
	RenderTimeout time.Duration
}

// File is the optional YAML overlay named by PROMO_CONFIG. Environment
// variables win over values set here.
type File struct {
	TextProvider      string            `yaml:"text_provider"`
	TextModel         string            `yaml:"text_model"`
	ImageModel        string            `yaml:"image_model"`
	ElevenLabsModel   string            `yaml:"elevenlabs_model"`
	Voices            map[string]string `yaml:"voices"`
	RenderCommand     []string          `yaml:"render_command"`
	WorkerConcurrency int               `yaml:"worker_concurrency"`
	MaxRetries        int               `yaml:"max_retries"`
}

var defaultVoices = map[string]string{
	"narrator": "21m00Tcm4TlvDq8ikWAM",
}

func Load() (Config, error) {
	var file File
	if path := os.Getenv("PROMO_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		file = loaded
	}

	voices := defaultVoices
	if len(file.Voices) > 0 {
		voices = file.Voices
	}
	if raw := os.Getenv("VOICE_IDS"); raw != "" {
		voices = parseVoices(raw)
	}
	renderCommand := file.RenderCommand
	if raw := os.Getenv("RENDER_COMMAND"); raw != "" {
		renderCommand = strings.Fields(raw)
	}

	cfg := Config{
		Addr:              getenv("PROMO_API_ADDR", ":8080"),
		DataDir:           getenv("PROMO_DATA_DIR", filepath.Join("..", "..", "local-data")),
		BaseURL:           getenv("PROMO_BASE_URL", "http://localhost:8080"),
		CORSOrigins:       getenvCSV("PROMO_CORS_ORIGINS", []string{"*"}),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", orInt(file.WorkerConcurrency, 4)),
		PollInterval:      getenvDuration("QUEUE_POLL_INTERVAL", time.Second),
		RetryDelay:        getenvDuration("RETRY_DELAY", 5*time.Second),
		MaxRetries:        getenvInt("MAX_RETRIES", orInt(file.MaxRetries, 3)),
		TextProvider:      strings.ToLower(getenv("TEXT_PROVIDER", orString(file.TextProvider, "genkit"))),
		TextModel:         getenv("TEXT_MODEL", orString(file.TextModel, "googleai/gemini-2.5-flash")),
		GoogleAPIKey:      firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		ImageModel:        getenv("IMAGE_MODEL", orString(file.ImageModel, "imagen-4.0-generate-001")),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsModel:   getenv("ELEVENLABS_MODEL", orString(file.ElevenLabsModel, "eleven_multilingual_v2")),
		Voices:            voices,
		RenderCommand:     renderCommand,
		RenderTimeout:     getenvDuration("RENDER_TIMEOUT", 10*time.Minute),
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return cfg, nil
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

// parseVoices accepts "name=id" pairs; a bare id is registered under itself.
func parseVoices(raw string) map[string]string {
	out := map[string]string{}
	for _, entry := range splitCSV(raw) {
		name, id, ok := strings.Cut(entry, "=")
		if !ok {
			out[entry] = entry
			continue
		}
		name, id = strings.TrimSpace(name), strings.TrimSpace(id)
		if name != "" && id != "" {
			out[name] = id
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getenvCSV(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	values := splitCSV(raw)
	if len(values) == 0 {
		return fallback
	}
	return values
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
