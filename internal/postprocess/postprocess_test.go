package postprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/example/promo-studio/api-go/internal/model"
)

func words(n int) []model.WordTimestamp {
	out := make([]model.WordTimestamp, n)
	for i := range out {
		out[i] = model.WordTimestamp{Word: fmt.Sprintf("w%d", i+1), Start: float64(i) * 0.5, End: float64(i)*0.5 + 0.4}
	}
	return out
}

func TestBuildSRTFourteenWordsMakeTwoCues(t *testing.T) {
	got := BuildSRT(words(14), DefaultWordsPerCue)
	want := "1\n00:00:00,000 --> 00:00:03,400\nw1 w2 w3 w4 w5 w6 w7\n" +
		"\n" +
		"2\n00:00:03,500 --> 00:00:06,900\nw8 w9 w10 w11 w12 w13 w14\n"
	if got != want {
		t.Fatalf("srt mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildSRTPartialLastCue(t *testing.T) {
	got := BuildSRT(words(9), 7)
	if strings.Count(got, " --> ") != 2 || !strings.Contains(got, "2\n00:00:03,500 --> 00:00:04,400\nw8 w9\n") {
		t.Fatalf("unexpected srt: %q", got)
	}
}

func TestBuildSRTWithoutWords(t *testing.T) {
	if got := BuildSRT(nil, 7); got != "" {
		t.Fatalf("expected empty srt, got %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{
		0:        "00:00:00,000",
		1.2346:   "00:00:01,235",
		61.5:     "00:01:01,500",
		3725.001: "01:02:05,001",
		-3:       "00:00:00,000",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func captionScript() model.VideoScript {
	return model.VideoScript{Scenes: []model.Scene{
		{ID: "hook", Voiceover: "Your mixes sound muddy? Here's why.", OnScreen: model.OnScreenText{}},
		{ID: "problem", Voiceover: "Most producers guess at EQ and compression."},
		{ID: "solution", Voiceover: "This course fixes that in Ableton.", OnScreen: model.OnScreenText{
			Headline:     "Mixing Mastery",
			BulletPoints: []string{"Clean low end", "Vocal clarity", "Loud masters", "Bonus presets"},
		}},
		{ID: "cta", Voiceover: "Enroll now.", OnScreen: model.OnScreenText{Headline: "Start Today"}},
	}}
}

func TestBuildCaptionLayout(t *testing.T) {
	got := BuildCaption(captionScript())
	want := "Your mixes sound muddy?\n\n" +
		"• Clean low end\n• Vocal clarity\n• Loud masters\n\n" +
		"Start Today\n\n" +
		"#mixing #mixingengineer #musicproducer #musicproduction #ableton #audioengineering #onlinecourse #learnmusic"
	if got != want {
		t.Fatalf("caption mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestBuildCaptionAlwaysEndsWithCallToAction(t *testing.T) {
	cases := []struct {
		name   string
		scenes []model.Scene
		want   string
	}{
		{
			name:   "single scene",
			scenes: []model.Scene{{ID: "cta", Voiceover: "Hi.", OnScreen: model.OnScreenText{Headline: "Join Now"}}},
			want:   "Join Now\n\nJoin Now",
		},
		{
			name: "closing repeats opening",
			scenes: []model.Scene{
				{ID: "hook", Voiceover: "Hi.", OnScreen: model.OnScreenText{Headline: "Join Now"}},
				{ID: "cta", Voiceover: "Bye.", OnScreen: model.OnScreenText{Headline: "Join Now"}},
			},
			want: "Join Now\n\nJoin Now",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildCaption(model.VideoScript{Scenes: tc.scenes}); got != tc.want {
				t.Fatalf("caption = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildCaptionIsDeterministic(t *testing.T) {
	script := captionScript()
	first := BuildCaption(script)
	for i := 0; i < 5; i++ {
		if got := BuildCaption(script); got != first {
			t.Fatalf("caption changed between calls:\n%q\n%q", first, got)
		}
	}
}

func TestHashtagsCappedAtFifteen(t *testing.T) {
	text := "mixing mastering synth beats producer ableton fl studio logic pro vocals songwriting theory eq samples studio course marketing business creator"
	tags := Hashtags(text)
	if len(tags) != maxHashtags {
		t.Fatalf("got %d tags, want %d: %v", len(tags), maxHashtags, tags)
	}
	if tags[0] != "#mixing" {
		t.Fatalf("table order not kept: %v", tags)
	}
}

func TestThumbnailFrame(t *testing.T) {
	cases := map[int]int{900: 270, 1800: 540, 1: 0, 0: 0, 3: 0}
	for frames, want := range cases {
		if got := ThumbnailFrame(frames); got != want {
			t.Fatalf("ThumbnailFrame(%d) = %d, want %d", frames, got, want)
		}
	}
}

func TestEncodeThumbnailWebP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: 40, B: uint8(y * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	data, contentType := EncodeThumbnail(buf.Bytes())
	if contentType != "image/webp" || !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("expected webp output, got %s (%d bytes)", contentType, len(data))
	}
}

func TestEncodeThumbnailFallsBackToInput(t *testing.T) {
	data, contentType := EncodeThumbnail([]byte("not an image"))
	if contentType != "image/png" || string(data) != "not an image" {
		t.Fatalf("expected passthrough, got %s %q", contentType, data)
	}
}
