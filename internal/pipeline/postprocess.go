package pipeline

import (
	"context"
	"log/slog"

	"github.com/example/promo-studio/api-go/internal/model"
	"github.com/example/promo-studio/api-go/internal/postprocess"
	"github.com/example/promo-studio/api-go/internal/render"
)

type PostResult struct {
	Thumbnail Result[string]
	Subtitles Result[string]
	Caption   Result[string]
}

// PostProcessor derives the thumbnail, subtitles and caption. Each one is
// best effort and independent of the others.
type PostProcessor struct {
	Engine      render.Engine
	Artifacts   Artifacts
	Store       JobStore
	Logger      *slog.Logger
	WordsPerCue int
}

func (p PostProcessor) Run(ctx context.Context, jobID string, script model.VideoScript, voice *Voiceover, rendered RenderResult) PostResult {
	log := orDefault(p.Logger).With(slog.String("job_id", jobID), slog.String("stage", "post_processing"))
	out := PostResult{
		Thumbnail: p.thumbnail(ctx, jobID, rendered),
		Subtitles: p.subtitles(ctx, jobID, voice),
		Caption:   p.caption(ctx, jobID, script),
	}
	outputs := []struct {
		name string
		res  Result[string]
	}{{"thumbnail", out.Thumbnail}, {"subtitles", out.Subtitles}, {"caption", out.Caption}}
	for _, o := range outputs {
		if o.res.Degraded {
			log.WarnContext(ctx, "derivation skipped", slog.String("output", o.name), slog.String("reason", o.res.Reason))
		}
	}
	return out
}

func (p PostProcessor) thumbnail(ctx context.Context, jobID string, rendered RenderResult) Result[string] {
	if p.Engine == nil {
		return Degrade("", "no render engine")
	}
	frame := postprocess.ThumbnailFrame(rendered.Frames)
	still, err := p.Engine.RenderStill(ctx, rendered.Composition, frame)
	if err != nil {
		return Degrade("", "still render failed: "+err.Error())
	}
	data, contentType := postprocess.EncodeThumbnail(still)
	handle, err := p.Artifacts.Upload(ctx, jobID, data, contentType)
	if err != nil {
		return Degrade("", "thumbnail upload failed: "+err.Error())
	}
	if err := p.Store.SetResult(ctx, jobID, model.FieldThumbnail, handle); err != nil {
		return Degrade("", "thumbnail save failed: "+err.Error())
	}
	return Complete(handle)
}

func (p PostProcessor) subtitles(ctx context.Context, jobID string, voice *Voiceover) Result[string] {
	if voice == nil || len(voice.Words) == 0 {
		return Degrade("", "no word timestamps")
	}
	srt := postprocess.BuildSRT(voice.Words, p.WordsPerCue)
	if srt == "" {
		return Degrade("", "no word timestamps")
	}
	if err := p.Store.SetResult(ctx, jobID, model.FieldSubtitles, srt); err != nil {
		return Degrade("", "subtitle save failed: "+err.Error())
	}
	return Complete(srt)
}

func (p PostProcessor) caption(ctx context.Context, jobID string, script model.VideoScript) Result[string] {
	caption := postprocess.BuildCaption(script)
	if caption == "" {
		return Degrade("", "script has no text")
	}
	if err := p.Store.SetResult(ctx, jobID, model.FieldCaption, caption); err != nil {
		return Degrade("", "caption save failed: "+err.Error())
	}
	return Complete(caption)
}
