package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidHandle = errors.New("invalid artifact handle")

// LocalFS stores job artifacts under Root. Handles are slash-separated paths
// relative to Root, e.g. jobs/<jobID>/<uuid>.mp4.
type LocalFS struct {
	Root    string
	BaseURL string
}

var extByContentType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"video/mp4":  ".mp4",
	"text/plain": ".txt",
}

// ContentType returns the content type a handle was uploaded with, judged
// by its extension, or "" when the extension is not one Upload produces.
func ContentType(handle string) string {
	ext := strings.ToLower(path.Ext(handle))
	for contentType, e := range extByContentType {
		if e == ext {
			return contentType
		}
	}
	return ""
}

// Upload writes data for a job and returns its handle.
func (l LocalFS) Upload(ctx context.Context, jobID string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("upload: bad job id %q", jobID)
	}
	ext := extByContentType[strings.ToLower(strings.TrimSpace(contentType))]
	if ext == "" {
		ext = ".bin"
	}
	handle := path.Join("jobs", jobID, uuid.NewString()+ext)
	if _, err := l.Put(handle, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload %s: %w", handle, err)
	}
	return handle, nil
}

func (l LocalFS) Put(handle string, r io.Reader) (string, error) {
	abs, clean, err := l.resolve(handle)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, nil
}

// ResolveURL turns a stored handle into a URL the renderer and clients can
// fetch. Handles that do not exist are an error.
func (l LocalFS) ResolveURL(handle string) (string, error) {
	_, clean, err := l.resolve(handle)
	if err != nil {
		return "", err
	}
	if !l.Exists(clean) {
		return "", fmt.Errorf("resolve %s: %w", clean, os.ErrNotExist)
	}
	return strings.TrimRight(l.BaseURL, "/") + "/v1/artifacts/" + clean, nil
}

// Path returns the absolute filesystem path of a handle.
func (l LocalFS) Path(handle string) (string, error) {
	abs, _, err := l.resolve(handle)
	return abs, err
}

func (l LocalFS) Open(handle string) (*os.File, error) {
	abs, _, err := l.resolve(handle)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(handle string) bool {
	abs, _, err := l.resolve(handle)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

func (l LocalFS) resolve(handle string) (abs, clean string, err error) {
	clean = path.Clean(strings.TrimPrefix(strings.ReplaceAll(handle, `\`, "/"), "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return filepath.Join(l.Root, filepath.FromSlash(clean)), clean, nil
}
