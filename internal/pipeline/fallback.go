package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/promo-studio/api-go/internal/model"
)

const fallbackPrelude = `var AbsoluteFill = Remotion.AbsoluteFill;
var Sequence = Remotion.Sequence;
var useCurrentFrame = Remotion.useCurrentFrame;
var Audio = Remotion.Audio;
var CenterScene = Components.CenterScene;
var Content = Components.Content;
var CinematicBG = Components.CinematicBG;
var FadeUp = Components.FadeUp;
var useExit = Components.useExit;
var F = Theme.F;
`

// FallbackCode builds a plain composition straight from the script: one
// sequence per scene showing its headline, subhead and bullets, with the
// scene's image behind it when one exists. Its output is deterministic.
func FallbackCode(script model.VideoScript, imageURLs []string, hasAudio bool, totalFrames int) string {
	palette := script.Palette
	if palette.Background == "" {
		palette = model.DefaultPalette
	}

	var b strings.Builder
	b.WriteString(fallbackPrelude)

	type placed struct {
		from, frames int
	}
	placements := make([]placed, len(script.Scenes))
	offset := 0
	for i, scene := range script.Scenes {
		frames := max(scene.Duration, 1) * model.FPS
		if i == len(script.Scenes)-1 && totalFrames > offset {
			frames = totalFrames - offset
		}
		placements[i] = placed{from: offset, frames: frames}
		offset += frames
	}

	for i, scene := range script.Scenes {
		last := i == len(script.Scenes)-1
		opacity, shift := "op", "y"
		exit := fmt.Sprintf("  var exit = useExit(%d, %d); var op = exit.op; var y = exit.y;\n",
			max(placements[i].frames-25, 0), placements[i].frames)
		if last {
			opacity, shift, exit = "1", "0", ""
		}

		children := []string{
			fmt.Sprintf(`React.createElement(FadeUp, { delay: 8 }, React.createElement("div", { style: { fontSize: 44, fontWeight: 900, fontFamily: F, lineHeight: 1.15, color: "#ffffff" } }, %s))`,
				jsString(scene.OnScreen.Headline)),
		}
		if scene.OnScreen.Subhead != "" {
			children = append(children, fmt.Sprintf(
				`React.createElement(FadeUp, { delay: 25, style: { fontSize: 22, color: "#94a3b8", fontFamily: F, fontWeight: 500, marginTop: 16 } }, %s)`,
				jsString(scene.OnScreen.Subhead)))
		}
		for bi, point := range scene.OnScreen.BulletPoints {
			children = append(children, fmt.Sprintf(
				`React.createElement(FadeUp, { delay: %d, style: { fontSize: 18, color: "#ffffff", fontFamily: F, fontWeight: 500, marginTop: 8 } }, %s)`,
				30+bi*15, jsString("→ "+point)))
		}
		body := strings.Join(children, ",\n      ")

		fmt.Fprintf(&b, "\nvar Scene%d = function() {\n  useCurrentFrame();\n%s", i, exit)
		if i < len(imageURLs) {
			fmt.Fprintf(&b, `  return React.createElement(AbsoluteFill, { style: { opacity: %s, transform: "translateY(" + %s + "px)" } },
    React.createElement(CinematicBG, { src: images[%d], overlayOpacity: 0.6 }),
    React.createElement(Content, null,
      %s
    )
  );
};
`, opacity, shift, i, body)
		} else {
			fmt.Fprintf(&b, `  return React.createElement(CenterScene, { opacity: %s, translateY: %s, seed: %d, tint: %s },
      %s
  );
};
`, opacity, shift, i, jsString(palette.Primary), body)
		}
	}

	sequences := make([]string, 0, len(script.Scenes)+1)
	if hasAudio {
		sequences = append(sequences, fmt.Sprintf(
			"    React.createElement(Sequence, { from: 0, durationInFrames: %d }, React.createElement(Audio, { src: audioUrl }))",
			max(totalFrames, offset)))
	}
	for i, p := range placements {
		sequences = append(sequences, fmt.Sprintf(
			"    React.createElement(Sequence, { from: %d, durationInFrames: %d }, React.createElement(Scene%d, null))",
			p.from, p.frames, i))
	}

	fmt.Fprintf(&b, `
var MyVideo = function() {
  return React.createElement(AbsoluteFill, { style: { backgroundColor: %s } },
%s
  );
};

return MyVideo;`, jsString(palette.Background), strings.Join(sequences, ",\n"))
	return b.String()
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSpace(buf.String())
}
