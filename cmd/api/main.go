package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/example/promo-studio/api-go/internal/ai"
	"github.com/example/promo-studio/api-go/internal/blob"
	"github.com/example/promo-studio/api-go/internal/config"
	"github.com/example/promo-studio/api-go/internal/httpapi"
	"github.com/example/promo-studio/api-go/internal/pipeline"
	"github.com/example/promo-studio/api-go/internal/queue"
	"github.com/example/promo-studio/api-go/internal/render"
	"github.com/example/promo-studio/api-go/internal/store"
)

func main() {
	loadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	jobStore, err := store.Open(filepath.Join(cfg.DataDir, "jobs.db"))
	if err != nil {
		return err
	}
	defer jobStore.Close()

	blobStore := blob.LocalFS{Root: filepath.Join(cfg.DataDir, "blobs"), BaseURL: cfg.BaseURL}

	clients, err := ai.NewClientsFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if clients.Text == nil {
		logger.Warn("no text provider configured; scripts will fail and code will use the fallback template")
	}
	if clients.Images == nil {
		logger.Warn("image generation disabled (no Google API key)")
	}
	if cfg.ElevenLabsAPIKey == "" {
		logger.Warn("speech synthesis disabled (no ElevenLabs API key)")
	}

	var engine render.Engine
	if len(cfg.RenderCommand) > 0 {
		engine = render.CLI{Command: cfg.RenderCommand, Timeout: cfg.RenderTimeout}
	} else {
		logger.Warn("RENDER_COMMAND not set; every render will fail")
		engine = render.CLI{}
	}

	jobQueue := queue.Queue{Store: jobStore}
	orchestrator := &pipeline.Orchestrator{
		Store:      jobStore,
		Artifacts:  blobStore,
		Logger:     logger,
		Context:    pipeline.ContextGatherer{Store: jobStore, Voices: cfg.Voices},
		Script:     pipeline.ScriptGenerator{Text: clients.Text, Store: jobStore, Logger: logger, Backoff: 2 * time.Second},
		Images:     pipeline.ImageGenerator{Images: clients.Images, Artifacts: blobStore, Logger: logger},
		Voice:      pipeline.VoiceSynthesizer{Speech: clients.Speech, Artifacts: blobStore, Logger: logger},
		Code:       pipeline.CodeGenerator{Text: clients.Text, Store: jobStore, Logger: logger},
		Render:     pipeline.Renderer{Engine: engine, Artifacts: blobStore, Store: jobStore, Logger: logger},
		Post:       pipeline.PostProcessor{Engine: engine, Artifacts: blobStore, Store: jobStore, Logger: logger},
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
	worker := &queue.Worker{
		Store:        jobStore,
		Runner:       orchestrator,
		Logger:       logger,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
	}
	if n, err := worker.Recover(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Info("recovered jobs from previous run", slog.Int("jobs", n))
	}

	server := httpapi.Server{
		Blobs:       blobStore,
		Jobs:        jobStore,
		Queue:       jobQueue,
		Voices:      cfg.Voices,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("API listening", slog.String("addr", cfg.Addr), slog.String("base_url", cfg.BaseURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
