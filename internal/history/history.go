// Package history holds the single in-memory conversation.
//
// DESIGN: The process models exactly one ongoing conversation, so the store is
// a mutex-guarded ordered slice of turns rather than a keyed session map. All
// mutations go through one lock so upload/reset requests cannot interleave
// with an in-flight chat commit.
package history

import (
	"strings"
	"sync"
)

// Role identifies who produced a turn. The backend's "model" label and
// "assistant" denote the same role; only RoleAssistant exists here.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation. Immutable once appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FileMarkerPrefix tags user turns whose content came from an uploaded
// document rather than typed input.
const FileMarkerPrefix = "[Uploaded file:"

// fileMarkerPrefixes includes the legacy localized prefix still present in
// old client payloads.
var fileMarkerPrefixes = []string{FileMarkerPrefix, "[Bestand:"}

// IsFileMarked reports whether a turn is a file-derived user turn.
func IsFileMarked(t Turn) bool {
	if t.Role != RoleUser {
		return false
	}
	for _, p := range fileMarkerPrefixes {
		if strings.HasPrefix(t.Content, p) {
			return true
		}
	}
	return false
}

// Store is the ordered, bounded conversation history.
type Store struct {
	mu    sync.Mutex
	turns []Turn
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a turn to the end of the conversation.
func (s *Store) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// Len returns the current number of turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// EnforceBound trims the history to the trailing 2*maxTurns entries. Callers
// apply it after appending the newest user turn so that turn is never the one
// dropped.
func (s *Store) EnforceBound(maxTurns int) {
	if maxTurns <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := maxTurns * 2
	if len(s.turns) <= limit {
		return
	}
	trimmed := make([]Turn, limit)
	copy(trimmed, s.turns[len(s.turns)-limit:])
	s.turns = trimmed
}

// RemoveFileMarkers removes every file-marked user turn and returns how many
// were removed. Assistant turns and ordinary user turns are untouched even if
// their text only partially resembles a marker prefix.
func (s *Store) RemoveFileMarkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.turns[:0]
	removed := 0
	for _, t := range s.turns {
		if IsFileMarked(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.turns = kept
	return removed
}

// Reset clears the history. Idempotent.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Snapshot returns a copy of all turns in conversation order.
func (s *Store) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// SnapshotExcludingLast returns a copy of all turns except the most recently
// appended one. The prompt builder receives "history so far" separately from
// the current message, which is always the last appended turn.
func (s *Store) SnapshotExcludingLast() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(s.turns)-1)
	copy(out, s.turns[:len(s.turns)-1])
	return out
}
