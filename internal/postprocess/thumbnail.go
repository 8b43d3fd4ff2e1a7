package postprocess

import (
	"bytes"
	"image"
	_ "image/png"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// ThumbnailFrame picks the still at 30% of the video.
func ThumbnailFrame(totalFrames int) int {
	if totalFrames <= 1 {
		return 0
	}
	frame := totalFrames * 3 / 10
	return min(frame, totalFrames-1)
}

// EncodeThumbnail re-encodes a rendered PNG still as WebP. When the still
// cannot be decoded or encoded the PNG is returned unchanged.
func EncodeThumbnail(still []byte) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(still))
	if err != nil {
		return still, "image/png"
	}
	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, 85)
	if err != nil {
		return still, "image/png"
	}
	var out bytes.Buffer
	if err := webp.Encode(&out, img, opts); err != nil {
		return still, "image/png"
	}
	return out.Bytes(), "image/webp"
}
