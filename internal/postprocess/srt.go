package postprocess

import (
	"fmt"
	"math"
	"strings"

	"github.com/example/promo-studio/api-go/internal/model"
)

const DefaultWordsPerCue = 7

// BuildSRT groups word timestamps into fixed-size cues. It returns "" when
// there are no words.
func BuildSRT(words []model.WordTimestamp, perCue int) string {
	if perCue <= 0 {
		perCue = DefaultWordsPerCue
	}
	var b strings.Builder
	index := 0
	for i := 0; i < len(words); i += perCue {
		chunk := words[i:min(i+perCue, len(words))]
		text := make([]string, 0, len(chunk))
		for _, w := range chunk {
			if word := strings.TrimSpace(w.Word); word != "" {
				text = append(text, word)
			}
		}
		if len(text) == 0 {
			continue
		}
		index++
		if index > 1 {
			b.WriteString("\n")
		}
		start, end := chunk[0].Start, chunk[len(chunk)-1].End
		if end < start {
			end = start
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", index, FormatTimestamp(start), FormatTimestamp(end), strings.Join(text, " "))
	}
	return b.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	h := totalMs / 3_600_000
	m := (totalMs / 60_000) % 60
	s := (totalMs / 1000) % 60
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
