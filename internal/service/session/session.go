package session

import (
	"sort"
	"sync"
	"time"

	"live-transcript-service/internal/models"
)

// Transcript is the mutable state guarded by a session's lock. It is only
// reachable through Session.Update, which holds the write lock for the whole
// callback, so any change made inside one callback is atomic to readers.
type Transcript struct {
	// Finals is append-only in arrival order of final events.
	Finals []*models.TranscriptSegment
	// Partials holds at most one outstanding partial per participant.
	Partials map[string]*models.TranscriptSegment
	// Seen records final identities already appended, for duplicate detection.
	Seen map[string]struct{}
}

// Session owns one meeting's transcript state.
// Thread-safe for concurrent access.
type Session struct {
	mu        sync.RWMutex
	id        string
	state     State
	createdAt time.Time
	// claimed is set once the lifecycle owner has created the session.
	claimed bool
	t       Transcript
}

func newSession(id string) *Session {
	return &Session{
		id:        id,
		state:     StateActive,
		createdAt: time.Now().UTC(),
		t: Transcript{
			Partials: make(map[string]*models.TranscriptSegment),
			Seen:     make(map[string]struct{}),
		},
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update runs fn with exclusive access to the transcript.
// Returns ErrSessionStopped without calling fn if the session was purged.
func (s *Session) Update(fn func(t *Transcript)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return ErrSessionStopped
	}
	fn(&s.t)
	return nil
}

// Snapshot is a point-in-time copy of a session's transcript.
// Segments are immutable and shared; the slices are private to the caller.
type Snapshot struct {
	SessionID string
	State     State
	CreatedAt time.Time
	Finals    []*models.TranscriptSegment
	// Partials is sorted by participant ID.
	Partials []*models.TranscriptSegment
}

// Snapshot copies the final sequence and, if requested, the outstanding partials.
func (s *Session) Snapshot(includePartials bool) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID: s.id,
		State:     s.state,
		CreatedAt: s.createdAt,
		Finals:    make([]*models.TranscriptSegment, len(s.t.Finals)),
	}
	copy(snap.Finals, s.t.Finals)

	if includePartials {
		snap.Partials = make([]*models.TranscriptSegment, 0, len(s.t.Partials))
		for _, p := range s.t.Partials {
			snap.Partials = append(snap.Partials, p)
		}
		sort.Slice(snap.Partials, func(i, j int) bool {
			return snap.Partials[i].ParticipantID < snap.Partials[j].ParticipantID
		})
	}
	return snap
}

// claim marks the session as explicitly created. It reports false if it
// already was.
func (s *Session) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

// stop moves the session to its terminal state and releases its data.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	s.t = Transcript{}
}
