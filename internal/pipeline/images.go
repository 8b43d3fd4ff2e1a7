package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/promo-studio/api-go/internal/ai"
	"github.com/example/promo-studio/api-go/internal/model"
)

const defaultImageConcurrency = 2

// ImageGenerator turns image prompts into stored stills. Individual prompt
// failures leave holes; only cancellation or unusable storage is an error.
type ImageGenerator struct {
	Images      ai.ImageGenerator
	Artifacts   Artifacts
	Logger      *slog.Logger
	Concurrency int
}

func (g ImageGenerator) Generate(ctx context.Context, jobID string, prompts []string, aspect model.AspectRatio) (Result[ImageSet], error) {
	set := ImageSet{Handles: make([]string, len(prompts))}
	if len(prompts) == 0 {
		return Complete(set), nil
	}
	if err := ctx.Err(); err != nil {
		return Result[ImageSet]{}, err
	}
	if g.Images == nil {
		return Degrade(set, "image generation not configured"), nil
	}

	limit := g.Concurrency
	if limit <= 0 {
		limit = defaultImageConcurrency
	}
	sem := make(chan struct{}, limit)

	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		generated      int
		storageErrors  int
		lastStorageErr error
	)
	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			img, err := g.Images.Generate(ctx, prompt, aspect)
			if err != nil {
				orDefault(g.Logger).WarnContext(ctx, "image prompt failed",
					slog.String("job_id", jobID), slog.Int("index", i), slog.String("error", err.Error()))
				return
			}
			handle, err := g.Artifacts.Upload(ctx, jobID, img.Data, img.ContentType)
			mu.Lock()
			defer mu.Unlock()
			generated++
			if err != nil {
				storageErrors++
				lastStorageErr = err
				orDefault(g.Logger).WarnContext(ctx, "image upload failed",
					slog.String("job_id", jobID), slog.Int("index", i), slog.String("error", err.Error()))
				return
			}
			set.Handles[i] = handle
			set.Succeeded++
		}(i, prompt)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Result[ImageSet]{}, err
	}
	if generated > 0 && storageErrors == generated {
		return Result[ImageSet]{}, fmt.Errorf("images: storage unusable: %w", lastStorageErr)
	}
	if set.Succeeded < len(prompts) {
		return Degrade(set, fmt.Sprintf("%d of %d images failed", len(prompts)-set.Succeeded, len(prompts))), nil
	}
	return Complete(set), nil
}

// URLs resolves the stored handles in order, skipping holes.
func (s ImageSet) URLs(artifacts Artifacts) []string {
	urls := make([]string, 0, s.Succeeded)
	for _, handle := range s.Handles {
		if handle == "" {
			continue
		}
		url, err := artifacts.ResolveURL(handle)
		if err != nil {
			continue
		}
		urls = append(urls, url)
	}
	return urls
}
