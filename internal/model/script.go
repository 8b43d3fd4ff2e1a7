package model

import (
	"strings"
	"time"
)

// VideoScript is the structured output of the script stage. Scene order is
// the order scenes appear on screen.
type VideoScript struct {
	ID            string       `json:"id"`
	JobID         string       `json:"jobId"`
	CreatedAt     time.Time    `json:"createdAt"`
	TotalDuration int          `json:"totalDuration"`
	Scenes        []Scene      `json:"scenes"`
	Palette       ColorPalette `json:"colorPalette"`
}

type Scene struct {
	ID              string       `json:"id"`
	Duration        int          `json:"duration"`
	Voiceover       string       `json:"voiceover,omitempty"`
	OnScreen        OnScreenText `json:"onScreenText"`
	ImagePrompt     string       `json:"imagePrompt,omitempty"`
	VisualDirection string       `json:"visualDirection,omitempty"`
	Mood            string       `json:"mood,omitempty"`
}

type OnScreenText struct {
	Headline     string   `json:"headline,omitempty"`
	Subhead      string   `json:"subhead,omitempty"`
	BulletPoints []string `json:"bulletPoints,omitempty"`
	Emphasis     []string `json:"emphasis,omitempty"`
}

type ColorPalette struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
}

// DefaultPalette is used when a script arrives without one.
var DefaultPalette = ColorPalette{
	Primary:    "#6366f1",
	Secondary:  "#7c3aed",
	Accent:     "#22d3ee",
	Background: "#0a0a0a",
}

// VoiceoverText joins every scene's voiceover line in scene order.
func (s VideoScript) VoiceoverText() string {
	lines := make([]string, 0, len(s.Scenes))
	for _, scene := range s.Scenes {
		if line := strings.TrimSpace(scene.Voiceover); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// SceneByID returns the first scene with one of the given ids.
func (s VideoScript) SceneByID(ids ...string) (Scene, bool) {
	for _, scene := range s.Scenes {
		for _, id := range ids {
			if strings.EqualFold(scene.ID, id) {
				return scene, true
			}
		}
	}
	return Scene{}, false
}

// WordTimestamp is one word of time-aligned narration, in seconds.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
