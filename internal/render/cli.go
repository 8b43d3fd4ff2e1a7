package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Request describes one composition to render.
type Request struct {
	Code   string
	Props  any
	Width  int
	Height int
	FPS    int
	Frames int
}

type Engine interface {
	// Render produces an mp4 of the whole composition.
	Render(ctx context.Context, req Request) ([]byte, error)
	// RenderStill produces a PNG of a single frame.
	RenderStill(ctx context.Context, req Request, frame int) ([]byte, error)
}

var ErrNotConfigured = errors.New("render command not configured")

// CLI runs an external renderer. The command receives:
//
//	<command...> render|still --code FILE --props FILE --width W --height H
//	  --fps F --frames N [--frame I] --out FILE
//
// and must write its output to --out.
type CLI struct {
	Command []string
	Timeout time.Duration
	// TempDir is where per-render work directories are created; empty uses os.TempDir.
	TempDir string
}

func (c CLI) Render(ctx context.Context, req Request) ([]byte, error) {
	return c.run(ctx, "render", req, -1, "out.mp4")
}

func (c CLI) RenderStill(ctx context.Context, req Request, frame int) ([]byte, error) {
	if frame < 0 || (req.Frames > 0 && frame >= req.Frames) {
		return nil, fmt.Errorf("still frame %d outside 0..%d", frame, req.Frames-1)
	}
	return c.run(ctx, "still", req, frame, "still.png")
}

func (c CLI) run(ctx context.Context, mode string, req Request, frame int, outName string) ([]byte, error) {
	if len(c.Command) == 0 {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%s: empty composition code", mode)
	}
	if req.Width <= 0 || req.Height <= 0 || req.FPS <= 0 || req.Frames <= 0 {
		return nil, fmt.Errorf("%s: invalid geometry %dx%d@%d for %d frames", mode, req.Width, req.Height, req.FPS, req.Frames)
	}

	workDir, err := os.MkdirTemp(c.TempDir, "render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	codePath := filepath.Join(workDir, "composition.js")
	if err := os.WriteFile(codePath, []byte(req.Code), 0o644); err != nil {
		return nil, err
	}
	props, err := json.Marshal(req.Props)
	if err != nil {
		return nil, fmt.Errorf("%s: encode props: %w", mode, err)
	}
	propsPath := filepath.Join(workDir, "props.json")
	if err := os.WriteFile(propsPath, props, 0o644); err != nil {
		return nil, err
	}
	outPath := filepath.Join(workDir, outName)

	args := append([]string{}, c.Command[1:]...)
	args = append(args, mode,
		"--code", codePath,
		"--props", propsPath,
		"--width", strconv.Itoa(req.Width),
		"--height", strconv.Itoa(req.Height),
		"--fps", strconv.Itoa(req.FPS),
		"--frames", strconv.Itoa(req.Frames),
	)
	if frame >= 0 {
		args = append(args, "--frame", strconv.Itoa(frame))
	}
	args = append(args, "--out", outPath)

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", mode, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %v\n%s", mode, runErr, tail(string(output), 2000))
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%s: renderer wrote no output: %w", mode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: renderer wrote an empty file", mode)
	}
	return data, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
