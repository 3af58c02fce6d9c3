package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Provider event names. The short aliases are accepted for providers that
// send the bare kind.
const (
	EventTranscriptPartial = "transcript.partial_data"
	EventTranscriptFinal   = "transcript.data"
)

// KindForEvent maps a provider event name to an EventKind.
// The second return value is false for events the service does not handle.
func KindForEvent(event string) (EventKind, bool) {
	switch event {
	case EventTranscriptPartial, string(KindPartial):
		return KindPartial, true
	case EventTranscriptFinal, string(KindFinal):
		return KindFinal, true
	default:
		return "", false
	}
}

// WebhookEnvelope is the minimal view of a delivery used to classify it.
// Data is left undecoded so that event kinds with other shapes can be
// ignored without being parsed.
type WebhookEnvelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// WebhookPayload is the full envelope of a transcript delivery.
type WebhookPayload struct {
	Event string      `json:"event" validate:"required"`
	Data  WebhookData `json:"data"`
}

// WebhookData holds the bot reference and the recognition body.
type WebhookData struct {
	Bot       WebhookBot        `json:"bot"`
	Data      WebhookTranscript `json:"data"`
	Timestamp string            `json:"timestamp"`
}

// WebhookBot identifies the session the event belongs to.
type WebhookBot struct {
	ID string `json:"id"`
}

// WebhookTranscript is the recognition result body.
type WebhookTranscript struct {
	Words       []WebhookWord      `json:"words" validate:"dive"`
	Participant WebhookParticipant `json:"participant"`
}

// WebhookWord is a recognized word with provider timestamps.
type WebhookWord struct {
	Text           string            `json:"text"`
	StartTimestamp *WebhookTimestamp `json:"start_timestamp"`
	EndTimestamp   *WebhookTimestamp `json:"end_timestamp"`
}

// MaxRelativeOffset bounds recording offsets, in seconds (30 days).
const MaxRelativeOffset = 2592000

// WebhookTimestamp carries the offset relative to the start of the recording.
type WebhookTimestamp struct {
	Relative *float64 `json:"relative" validate:"omitempty,gte=0,lte=2592000"`
	Absolute string   `json:"absolute,omitempty"`
}

// WebhookParticipant describes the speaker.
type WebhookParticipant struct {
	ID     FlexibleID `json:"id"`
	Name   string     `json:"name"`
	IsHost bool       `json:"is_host"`
}

// FlexibleID accepts a JSON string or number and keeps its textual form.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("participant id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = FlexibleID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexibleID(n.String())
	return nil
}

// DomainWords converts the provider words into the domain representation.
// A missing start timestamp is treated as offset zero; a missing end stays absent.
func (t WebhookTranscript) DomainWords() []Word {
	words := make([]Word, 0, len(t.Words))
	for _, w := range t.Words {
		word := Word{Text: w.Text}
		if w.StartTimestamp != nil && w.StartTimestamp.Relative != nil {
			word.Start = *w.StartTimestamp.Relative
		}
		if w.EndTimestamp != nil && w.EndTimestamp.Relative != nil {
			end := *w.EndTimestamp.Relative
			word.End = &end
		}
		words = append(words, word)
	}
	return words
}
