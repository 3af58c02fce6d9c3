// Package models defines the data structures for transcript events.
package models

import "time"

// EventKind identifies whether a recognition result is interim or finalized.
type EventKind string

const (
	KindPartial EventKind = "partial"
	KindFinal   EventKind = "final"
)

// Word is a single recognized token. Offsets are seconds relative to session start.
type Word struct {
	Text  string   `json:"text"`
	Start float64  `json:"start"`
	End   *float64 `json:"end,omitempty"`
}

// Speaker carries the participant descriptor delivered with each event.
type Speaker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"is_host"`
}

// TranscriptSegment is the normalized unit of speech. It is never mutated
// after the normalizer builds it; callers share it by value or pointer freely.
type TranscriptSegment struct {
	SegmentID     string    `json:"segment_id"`
	SessionID     string    `json:"session_id"`
	Text          string    `json:"text"`
	Speaker       string    `json:"speaker"`
	ParticipantID string    `json:"participant_id"`
	IsHost        bool      `json:"is_host"`
	Start         float64   `json:"start"`
	End           *float64  `json:"end"`
	Words         []Word    `json:"words"`
	IsPartial     bool      `json:"is_partial"`
	EventKind     EventKind `json:"event_kind"`
	Timestamp     string    `json:"timestamp,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// RecognitionEvent is a decoded provider event waiting to be normalized.
type RecognitionEvent struct {
	SessionID  string
	Kind       EventKind
	Words      []Word
	Speaker    Speaker
	Timestamp  string
	ReceivedAt time.Time
	RequestID  string
}

// TranscriptPartial is the fan-out event for an updated partial segment.
type TranscriptPartial struct {
	EventType string            `json:"eventType"`
	SessionID string            `json:"sessionId"`
	Timestamp int64             `json:"timestamp"`
	Segment   TranscriptSegment `json:"segment"`
}

// TranscriptFinal is the fan-out event for an appended final segment.
type TranscriptFinal struct {
	EventType string            `json:"eventType"`
	SessionID string            `json:"sessionId"`
	Timestamp int64             `json:"timestamp"`
	Sequence  int               `json:"sequence"`
	Segment   TranscriptSegment `json:"segment"`
}
