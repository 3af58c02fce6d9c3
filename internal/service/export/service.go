// Package export renders session transcripts as live views, formatted
// streams and exported documents.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/service/session"
)

// Format is an export document format.
type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
)

// ParseFormat validates a format name. An empty name selects json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatTXT, FormatSRT:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ErrUnsupportedFormat is returned for format names other than json, txt and srt.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Read statuses.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
)

const notFoundMessage = "no transcript state for this session; it was never started or has already been stopped"

// LiveResult is the live-transcript view.
type LiveResult struct {
	SessionID string                      `json:"session_id"`
	Status    string                      `json:"status"`
	Message   string                      `json:"message,omitempty"`
	Finals    []*models.TranscriptSegment `json:"finals"`
	Partials  []*models.TranscriptSegment `json:"partials,omitempty"`
}

// StreamResult is the formatted-stream view.
type StreamResult struct {
	SessionID string   `json:"session_id"`
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	Lines     []string `json:"lines"`
}

// ExportResult is an exported document. Segments is set for json; Content
// for txt and srt. Both encode under the "content" key.
type ExportResult struct {
	SessionID string
	Status    string
	Message   string
	Format    Format
	Count     int
	Segments  []*models.TranscriptSegment
	Content   string
}

// MarshalJSON implements json.Marshaler.
func (r ExportResult) MarshalJSON() ([]byte, error) {
	var content any = r.Content
	if r.Format == FormatJSON {
		segs := r.Segments
		if segs == nil {
			segs = []*models.TranscriptSegment{}
		}
		content = segs
	}
	return json.Marshal(struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Message   string `json:"message,omitempty"`
		Format    Format `json:"format"`
		Count     int    `json:"count"`
		Content   any    `json:"content"`
	}{r.SessionID, r.Status, r.Message, r.Format, r.Count, content})
}

// Service reads session snapshots. It never blocks ingestion: every read
// works on a copy taken under the session's read lock.
type Service struct {
	registry *session.Registry
	logger   zerolog.Logger
}

// NewService creates a read service over registry.
func NewService(registry *session.Registry) *Service {
	return &Service{
		registry: registry,
		logger:   logging.WithComponent("export"),
	}
}

func (s *Service) snapshot(sessionID string, includePartials bool) (session.Snapshot, bool) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		s.logger.Debug().Str("sessionId", sessionID).Msg("Read for unknown session")
		return session.Snapshot{}, false
	}
	return sess.Snapshot(includePartials), true
}

// Live returns the final sequence and, if requested, outstanding partials.
func (s *Service) Live(sessionID string, includePartials bool) LiveResult {
	snap, ok := s.snapshot(sessionID, includePartials)
	if !ok {
		return LiveResult{
			SessionID: sessionID,
			Status:    StatusNotFound,
			Message:   notFoundMessage,
			Finals:    []*models.TranscriptSegment{},
		}
	}
	return LiveResult{
		SessionID: sessionID,
		Status:    StatusOK,
		Finals:    snap.Finals,
		Partials:  snap.Partials,
	}
}

// Stream renders each final as "[MM:SS] speaker: text".
func (s *Service) Stream(sessionID string) StreamResult {
	snap, ok := s.snapshot(sessionID, false)
	if !ok {
		return StreamResult{SessionID: sessionID, Status: StatusNotFound, Message: notFoundMessage, Lines: []string{}}
	}
	lines := make([]string, len(snap.Finals))
	for i, seg := range snap.Finals {
		lines[i] = StreamLine(seg)
	}
	return StreamResult{SessionID: sessionID, Status: StatusOK, Lines: lines}
}

// Export renders the final sequence in format.
func (s *Service) Export(sessionID string, format Format) (ExportResult, error) {
	switch format {
	case FormatJSON, FormatTXT, FormatSRT:
	default:
		return ExportResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	snap, ok := s.snapshot(sessionID, false)
	if !ok {
		return ExportResult{SessionID: sessionID, Status: StatusNotFound, Message: notFoundMessage, Format: format}, nil
	}

	res := ExportResult{SessionID: sessionID, Status: StatusOK, Format: format, Count: len(snap.Finals)}
	switch format {
	case FormatJSON:
		res.Segments = snap.Finals
	case FormatTXT:
		res.Content = RenderText(snap.Finals)
	case FormatSRT:
		res.Content = RenderSRT(snap.Finals)
	}
	return res, nil
}

// PlainText returns the speaker-labeled plain-text rendering of the final
// sequence, the form handed to the summarization collaborator. The second
// return value is false for unknown sessions.
func (s *Service) PlainText(sessionID string) (string, bool) {
	snap, ok := s.snapshot(sessionID, false)
	if !ok {
		return "", false
	}
	return RenderText(snap.Finals), true
}
