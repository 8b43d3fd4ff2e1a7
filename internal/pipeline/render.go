package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/render"
)

type RenderInput struct {
	JobID       string
	Code        string
	ImageURLs   []string
	Audio       *AudioInput
	AspectRatio model.AspectRatio
	Duration    int
	Palette     model.ColorPalette
}

// compositionProps is what the generated code receives at render time.
type compositionProps struct {
	Images   []string              `json:"images"`
	AudioURL string                `json:"audioUrl,omitempty"`
	Palette  model.ColorPalette    `json:"palette"`
	Words    []model.WordTimestamp `json:"words,omitempty"`
}

// Renderer runs the composition through the render engine and stores the
// video. Any failure here fails the attempt.
type Renderer struct {
	Engine    render.Engine
	Artifacts Artifacts
	Store     JobStore
	Logger    *slog.Logger
}

func (r Renderer) Render(ctx context.Context, in RenderInput) (RenderResult, error) {
	if r.Engine == nil {
		return RenderResult{}, errors.New("render: no engine configured")
	}
	dims := in.AspectRatio.Dimensions()
	frames := model.TotalFrames(in.Duration)
	props := compositionProps{Images: in.ImageURLs, Palette: in.Palette}
	if props.Images == nil {
		props.Images = []string{}
	}
	if in.Audio != nil {
		props.AudioURL = in.Audio.URL
		props.Words = in.Audio.Words
	}
	req := render.Request{
		Code:   in.Code,
		Props:  props,
		Width:  dims.Width,
		Height: dims.Height,
		FPS:    model.FPS,
		Frames: frames,
	}

	started := time.Now()
	video, err := r.Engine.Render(ctx, req)
	if err != nil {
		return RenderResult{}, fmt.Errorf("render: %w", err)
	}
	handle, err := r.Artifacts.Upload(ctx, in.JobID, video, "video/mp4")
	if err != nil {
		return RenderResult{}, fmt.Errorf("render: upload: %w", err)
	}
	if err := r.Store.SetResult(ctx, in.JobID, model.FieldVideo, handle); err != nil {
		return RenderResult{}, fmt.Errorf("render: save: %w", err)
	}
	orDefault(r.Logger).InfoContext(ctx, "video rendered",
		slog.String("job_id", in.JobID),
		slog.Int("frames", frames),
		slog.Int("bytes", len(video)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return RenderResult{VideoHandle: handle, Frames: frames, Dimensions: dims, Composition: req}, nil
}
