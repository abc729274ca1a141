package router

import (
	"sync"
	"time"
)

// DefaultGracePeriod is how long a closed session remains resolvable so a
// reconnecting client does not lose results delivered in the gap.
const DefaultGracePeriod = 2 * time.Minute

// sessionState tracks one live or recently closed session.
type sessionState struct {
	closedAt time.Time // zero while the session is live
}

// SessionTable maps batch submissions to the execution sessions that should
// receive their results. The core only reads and writes this lookup table;
// session lifecycle events come from the session-management collaborator.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	// bindings maps batch ID to the session IDs bound to it.
	bindings map[string][]string
	grace    time.Duration
}

// NewSessionTable creates an empty session table with the given grace
// period; zero means DefaultGracePeriod.
func NewSessionTable(grace time.Duration) *SessionTable {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &SessionTable{
		sessions: make(map[string]*sessionState),
		bindings: make(map[string][]string),
		grace:    grace,
	}
}

// RegisterSession marks a session as live. Re-registering a session that is
// inside its grace period revives it (client reconnected).
func (t *SessionTable) RegisterSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &sessionState{}
}

// CloseSession starts the grace period for a session. The session stays
// resolvable until the period lapses and Sweep runs.
func (t *SessionTable) CloseSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.closedAt = time.Now()
	}
}

// Bind associates a batch with a session. A batch may be bound to several
// sessions belonging to the same logical user, never to unrelated ones; the
// caller is responsible for that scoping.
func (t *SessionTable) Bind(batchID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[sessionID]; !ok {
		t.sessions[sessionID] = &sessionState{}
	}
	for _, existing := range t.bindings[batchID] {
		if existing == sessionID {
			return
		}
	}
	t.bindings[batchID] = append(t.bindings[batchID], sessionID)
}

// Resolve returns the resolvable session IDs bound to a batch: live
// sessions plus closed ones still inside their grace period.
func (t *SessionTable) Resolve(batchID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-t.grace)
	var out []string
	for _, sessionID := range t.bindings[batchID] {
		s, ok := t.sessions[sessionID]
		if !ok {
			continue
		}
		if !s.closedAt.IsZero() && s.closedAt.Before(cutoff) {
			continue
		}
		out = append(out, sessionID)
	}
	return out
}

// Sweep garbage-collects sessions whose grace period lapsed and drops their
// batch bindings. Returns the number of sessions removed.
func (t *SessionTable) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.grace)
	removed := 0
	for id, s := range t.sessions {
		if !s.closedAt.IsZero() && s.closedAt.Before(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	for batchID, sessionIDs := range t.bindings {
		kept := sessionIDs[:0]
		for _, sid := range sessionIDs {
			if _, ok := t.sessions[sid]; ok {
				kept = append(kept, sid)
			}
		}
		if len(kept) == 0 {
			delete(t.bindings, batchID)
		} else {
			t.bindings[batchID] = kept
		}
	}
	return removed
}
