package postprocess

import (
	"strings"
	"unicode"

	"github.com/example/promo-studio/api-go/internal/model"
)

const (
	maxCaptionBullets = 3
	maxHashtags       = 15
)

type topicTags struct {
	keywords []string
	tags     []string
}

// hashtagTable is matched in order; earlier topics win when the cap is hit.
var hashtagTable = []topicTags{
	{[]string{"mix", "mixing", "mixes", "mixdown"}, []string{"#mixing", "#mixingengineer"}},
	{[]string{"master", "mastering", "loudness"}, []string{"#mastering"}},
	{[]string{"synth", "synths", "synthesis", "sound design", "serum", "patch", "patches"}, []string{"#sounddesign", "#synthesizer"}},
	{[]string{"beat", "beats", "beatmaking", "trap", "drums", "808", "808s"}, []string{"#beatmaker", "#beats"}},
	{[]string{"producer", "producers", "production", "produce", "producing"}, []string{"#musicproducer", "#musicproduction"}},
	{[]string{"ableton"}, []string{"#ableton"}},
	{[]string{"fl studio"}, []string{"#flstudio"}},
	{[]string{"logic pro"}, []string{"#logicpro"}},
	{[]string{"vocal", "vocals", "singer", "singing"}, []string{"#vocals"}},
	{[]string{"song", "songs", "songwriting", "lyrics"}, []string{"#songwriting"}},
	{[]string{"theory", "chords", "harmony", "scales", "melody"}, []string{"#musictheory"}},
	{[]string{"eq", "compression", "compressor", "reverb", "saturation"}, []string{"#audioengineering"}},
	{[]string{"sample", "samples", "loops", "presets", "sample pack"}, []string{"#samplepack"}},
	{[]string{"studio", "home studio", "bedroom"}, []string{"#homestudio"}},
	{[]string{"course", "lesson", "lessons", "learn", "tutorial", "masterclass"}, []string{"#onlinecourse", "#learnmusic"}},
	{[]string{"marketing", "email", "emails", "brand", "fans", "followers"}, []string{"#musicmarketing"}},
	{[]string{"business", "sales", "income", "sell", "store"}, []string{"#musicbusiness"}},
	{[]string{"creator", "creators", "content"}, []string{"#contentcreator"}},
}

// BuildCaption derives a social caption from the script text alone. The same
// script always yields the same caption.
func BuildCaption(script model.VideoScript) string {
	if len(script.Scenes) == 0 {
		return ""
	}
	var sections []string

	first := script.Scenes[0]
	opening := strings.TrimSpace(first.OnScreen.Headline)
	if opening == "" {
		opening = firstSentence(first.Voiceover)
	}
	if opening != "" {
		sections = append(sections, opening)
	}

	if scene, ok := script.SceneByID("solution", "features"); ok {
		var bullets []string
		for _, point := range scene.OnScreen.BulletPoints {
			if point = strings.TrimSpace(point); point != "" {
				bullets = append(bullets, "• "+point)
			}
			if len(bullets) == maxCaptionBullets {
				break
			}
		}
		if len(bullets) > 0 {
			sections = append(sections, strings.Join(bullets, "\n"))
		}
	}

	// The final scene's headline is the call-to-action, even when it repeats
	// the opening.
	if cta := strings.TrimSpace(script.Scenes[len(script.Scenes)-1].OnScreen.Headline); cta != "" {
		sections = append(sections, cta)
	}

	if tags := Hashtags(script.VoiceoverText()); len(tags) > 0 {
		sections = append(sections, strings.Join(tags, " "))
	}
	return strings.Join(sections, "\n\n")
}

// Hashtags matches text against the topic table, keeping table order and
// stopping at the cap.
func Hashtags(text string) []string {
	normalized := " " + strings.Join(tokenize(text), " ") + " "
	seen := map[string]bool{}
	var out []string
	for _, topic := range hashtagTable {
		if !matchesAny(normalized, topic.keywords) {
			continue
		}
		for _, tag := range topic.tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
			if len(out) == maxHashtags {
				return out
			}
		}
	}
	return out
}

func matchesAny(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, " "+kw+" ") {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(text) || text[i+1] == ' ' {
			return text[:i+1]
		}
	}
	return text
}
