// Package session provides the registry that owns per-meeting transcript state.
package session

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateActive - Session accepts events and serves reads.
	StateActive State = iota
	// StateStopped - Session was purged. Terminal; late holders of the
	// session pointer must not mutate it.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

var (
	ErrAlreadyExists  = errors.New("session already exists")
	ErrSessionStopped = errors.New("session is stopped")
	ErrEmptySessionID = errors.New("session id is empty")
)
