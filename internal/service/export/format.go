package export

import (
	"fmt"
	"math"
	"strings"

	"live-transcript-service/internal/models"
)

// defaultCueSeconds is the cue length used when a segment has no end offset.
const defaultCueSeconds = 5.0

// maxSeconds caps rendered offsets so the integer fields stay well defined.
const maxSeconds = models.MaxRelativeOffset + defaultCueSeconds

// StreamLine renders a segment as "[MM:SS] speaker: text" from its start offset.
func StreamLine(seg *models.TranscriptSegment) string {
	s := clamp(seg.Start)
	minutes := int64(math.Floor(s / 60))
	seconds := int64(math.Floor(math.Mod(s, 60)))
	return fmt.Sprintf("[%02d:%02d] %s", minutes, seconds, TextLine(seg))
}

// TextLine renders a segment as "speaker: text" on a single line. Line
// breaks and runs of whitespace in either field collapse to one space.
func TextLine(seg *models.TranscriptSegment) string {
	return oneLine(seg.Speaker) + ": " + oneLine(seg.Text)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SRTTimestamp renders seconds as HH:MM:SS,mmm. Millisecond rounding that
// reaches 1000 carries into the seconds field.
func SRTTimestamp(s float64) string {
	s = clamp(s)
	whole := math.Floor(s)
	ms := int64(math.Round(math.Mod(s, 1) * 1000))
	total := int64(whole)
	if ms >= 1000 {
		total++
		ms -= 1000
	}
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, sec, ms)
}

// RenderText renders finals one "speaker: text" per line.
func RenderText(finals []*models.TranscriptSegment) string {
	lines := make([]string, len(finals))
	for i, seg := range finals {
		lines[i] = TextLine(seg)
	}
	return strings.Join(lines, "\n")
}

// RenderSRT renders finals as SRT cues separated by a blank line.
// No finals yields the empty string.
func RenderSRT(finals []*models.TranscriptSegment) string {
	var b strings.Builder
	for i, seg := range finals {
		if i > 0 {
			b.WriteString("\n")
		}
		end := seg.Start + defaultCueSeconds
		if seg.End != nil {
			end = *seg.End
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", i+1, SRTTimestamp(seg.Start), SRTTimestamp(end), TextLine(seg))
	}
	return b.String()
}

func clamp(s float64) float64 {
	switch {
	case s < 0 || math.IsNaN(s):
		return 0
	case s > maxSeconds:
		return maxSeconds
	}
	return s
}
