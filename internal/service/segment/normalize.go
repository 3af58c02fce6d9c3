package segment

import (
	"strings"
	"time"

	"live-transcript-service/internal/models"
)

// Normalizer turns recognition events into immutable transcript segments.
type Normalizer struct {
	ids *Generator
	now func() time.Time
}

// NewNormalizer creates a Normalizer. A nil generator gets a private one.
func NewNormalizer(ids *Generator) *Normalizer {
	if ids == nil {
		ids = New()
	}
	return &Normalizer{ids: ids, now: time.Now}
}

// Normalize builds a segment from ev. It returns false when the joined word
// text is empty, in which case the event contributes nothing.
func (n *Normalizer) Normalize(ev models.RecognitionEvent) (*models.TranscriptSegment, bool) {
	text := JoinWords(ev.Words)
	if text == "" {
		return nil, false
	}

	var start float64
	var end *float64
	if len(ev.Words) > 0 {
		start = ev.Words[0].Start
		if last := ev.Words[len(ev.Words)-1]; last.End != nil {
			e := *last.End
			end = &e
		}
	}

	words := make([]models.Word, len(ev.Words))
	for i, w := range ev.Words {
		words[i] = w
		if w.End != nil {
			e := *w.End
			words[i].End = &e
		}
	}

	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = n.now().UTC()
	}

	return &models.TranscriptSegment{
		SegmentID:     n.ids.Next(ev.SessionID),
		SessionID:     ev.SessionID,
		Text:          text,
		Speaker:       SpeakerLabel(ev.Speaker),
		ParticipantID: strings.TrimSpace(ev.Speaker.ID),
		IsHost:        ev.Speaker.IsHost,
		Start:         start,
		End:           end,
		Words:         words,
		IsPartial:     ev.Kind == models.KindPartial,
		EventKind:     ev.Kind,
		Timestamp:     ev.Timestamp,
		ReceivedAt:    receivedAt,
	}, true
}

// JoinWords joins word texts with single spaces and trims the result.
func JoinWords(words []models.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SpeakerLabel returns the display name, or a synthesized "Participant <id>".
func SpeakerLabel(s models.Speaker) string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if id := strings.TrimSpace(s.ID); id != "" {
		return "Participant " + id
	}
	return "Participant unknown"
}
