package session

import (
	"sort"
	"strings"
	"sync"
)

// Registry owns the lifecycle of every session's transcript state.
// The registry lock only guards the map; each session has its own lock.
//
// Destroyed ids are remembered so late events cannot bring a session back;
// only an explicit Create reopens one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		stopped:  make(map[string]struct{}),
	}
}

// Create registers id on behalf of the session's lifecycle owner.
// See Claim for how implicitly opened sessions are handled.
func (r *Registry) Create(id string) (*Session, error) {
	s, _, err := r.Claim(id)
	return s, err
}

// Claim is Create that also reports whether an existing session, opened
// implicitly by an earlier event, was adopted instead of a new one being
// created. Fails with ErrAlreadyExists if id was already created explicitly
// and is still active. A destroyed id is reopened with an empty transcript.
func (r *Registry) Claim(id string) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if !s.claim() {
			return nil, false, ErrAlreadyExists
		}
		return s, true, nil
	}
	delete(r.stopped, id)
	s := newSession(id)
	s.claim()
	r.sessions[id] = s
	return s, false, nil
}

// Ensure returns the session for id, creating it if the registry has not seen it.
// The second return value reports whether the session was created by this call.
// Ids that were destroyed fail with ErrSessionStopped until created again.
func (r *Registry) Ensure(id string) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, ErrEmptySessionID
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}
	if _, ok := r.stopped[id]; ok {
		return nil, false, ErrSessionStopped
	}
	s = newSession(id)
	r.sessions[id] = s
	return s, true, nil
}

// Get returns the active session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[strings.TrimSpace(id)]
	return s, ok
}

// Destroy purges the session. Unknown ids are a no-op since stop requests
// may race with or follow cleanup. Returns true if a session was removed.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[strings.TrimSpace(id)]
	if ok {
		delete(r.sessions, s.id)
		r.stopped[s.id] = struct{}{}
	}
	r.mu.Unlock()

	if ok {
		s.stop()
	}
	return ok
}

// List returns the IDs of all active sessions, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
