package gateway

import "sync"

// TypingTracker maintains the set of users currently typing per session
// FUNCTIONAL DISCOVERY: State is per-user, not per-connection, so a user
// typing in one tab and idle in another still reads as typing exactly once
type TypingTracker struct {
	mu     sync.RWMutex
	typing map[string]map[string]bool // sessionID -> userID -> true
}

// NewTypingTracker creates an empty typing tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		typing: make(map[string]map[string]bool),
	}
}

// Start marks a user as typing in a session. Returns true if the state
// changed, false if the user was already typing.
func (t *TypingTracker) Start(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing[sessionID] == nil {
		t.typing[sessionID] = make(map[string]bool)
	}
	if t.typing[sessionID][userID] {
		return false
	}
	t.typing[sessionID][userID] = true
	return true
}

// Stop clears a user's typing state in a session. Returns true if the state
// changed, false if the user was not typing. Idempotent.
func (t *TypingTracker) Stop(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, exists := t.typing[sessionID]
	if !exists || !users[userID] {
		return false
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, sessionID)
	}
	return true
}

// ClearUser removes the user's typing state from every session, returning
// the sessions that changed. Used on disconnect.
func (t *TypingTracker) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []string
	for sessionID, users := range t.typing {
		if users[userID] {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.typing, sessionID)
			}
			cleared = append(cleared, sessionID)
		}
	}
	return cleared
}

// TypingUsers returns the users currently typing in a session.
func (t *TypingTracker) TypingUsers(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var users []string
	for userID := range t.typing[sessionID] {
		users = append(users, userID)
	}
	return users
}

// Count returns how many users are typing in a session.
func (t *TypingTracker) Count(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.typing[sessionID])
}
