package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Manager owns the session lifecycle and the active-session cache
// ARCHITECTURAL DISCOVERY: In-memory cache over the database manager keeps
// the hot path (access checks on every message) off the disk
type Manager struct {
	dbManager      interfaces.DatabaseManager
	activeSessions map[string]*types.Session // sessionID -> Session
	byUserType     map[string]string         // userID|sessionType -> sessionID
	mu             sync.RWMutex
}

// NewManager creates a new session manager
func NewManager(dbManager interfaces.DatabaseManager) *Manager {
	return &Manager{
		dbManager:      dbManager,
		activeSessions: make(map[string]*types.Session),
		byUserType:     make(map[string]string),
	}
}

func cacheKey(userID, sessionType string) string {
	return userID + "|" + sessionType
}

// LoadActiveSessions loads all active sessions from database into memory
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range sessions {
		m.activeSessions[session.ID] = session
		m.byUserType[cacheKey(session.UserID, session.SessionType)] = session.ID
	}

	log.Printf("Loaded %d active sessions", len(sessions))
	return nil
}

// GetOrCreateSession returns the user's active session of the given type,
// creating one only if none exists. The returned bool reports creation.
// FUNCTIONAL DISCOVERY: At most one active session per (userID, sessionType)
// - repeated requests return the existing session rather than forking
func (m *Manager) GetOrCreateSession(ctx context.Context, userID, sessionType, title string) (*types.Session, bool, error) {
	if !types.IsValidUserID(userID) {
		return nil, false, ErrInvalidUserID
	}
	if !types.IsValidSessionType(sessionType) {
		return nil, false, ErrInvalidSessionType
	}

	// Cache first
	m.mu.RLock()
	if sessionID, exists := m.byUserType[cacheKey(userID, sessionType)]; exists {
		if session, ok := m.activeSessions[sessionID]; ok {
			m.mu.RUnlock()
			return session, false, nil
		}
	}
	m.mu.RUnlock()

	// Database covers sessions created before this process started
	existing, err := m.dbManager.FindActiveSession(ctx, userID, sessionType)
	if err == nil {
		m.cacheSession(existing)
		return existing, false, nil
	}
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("failed to look up active session: %w", err)
	}

	now := time.Now()
	if title == "" {
		title = defaultTitle(sessionType, now)
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		SessionType: sessionType,
		Status:      types.SessionStatusActive,
		Title:       title,
		Priority:    types.PriorityMedium,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.dbManager.CreateSession(ctx, session); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	m.cacheSession(session)

	log.Printf("Created session: id=%s user=%s type=%s", session.ID, session.UserID, session.SessionType)
	return session, true, nil
}

func defaultTitle(sessionType string, at time.Time) string {
	if sessionType == types.SessionTypeSupport {
		return "Support conversation " + at.Format("2006-01-02 15:04")
	}
	return "Conversation " + at.Format("2006-01-02 15:04")
}

func (m *Manager) cacheSession(session *types.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessions[session.ID] = session
	m.byUserType[cacheKey(session.UserID, session.SessionType)] = session.ID
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, exists := m.activeSessions[sessionID]; exists {
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	// Query database for closed sessions or cache misses
	session, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// UpdateSession persists session changes and refreshes the cache entry
// FUNCTIONAL DISCOVERY: Escalation flips session type in place, so the
// byUserType index must be rewritten on every update
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	session.UpdatedAt = time.Now()

	if err := m.dbManager.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Drop stale index entries pointing at this session
	for key, id := range m.byUserType {
		if id == session.ID {
			delete(m.byUserType, key)
		}
	}

	if session.Status == types.SessionStatusActive {
		m.activeSessions[session.ID] = session
		m.byUserType[cacheKey(session.UserID, session.SessionType)] = session.ID
	} else {
		delete(m.activeSessions, session.ID)
	}

	return nil
}

// CloseSession closes an active session. Closed is terminal.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status == types.SessionStatusClosed {
		return ErrSessionAlreadyClosed
	}

	now := time.Now()
	session.Status = types.SessionStatusClosed
	session.ClosedAt = &now

	if err := m.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	log.Printf("Closed session: id=%s user=%s", session.ID, session.UserID)
	return nil
}

// ListActiveSessions returns all cached active sessions
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	sessions := make([]*types.Session, 0, len(m.activeSessions))
	for _, session := range m.activeSessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	return sessions, nil
}

// ValidateAccess checks whether a user may join and act in a session
// FUNCTIONAL DISCOVERY: Owners always have access; support staff have access
// to support sessions; managers and admins see everything
func (m *Manager) ValidateAccess(ctx context.Context, sessionID, userID, role string) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status != types.SessionStatusActive {
		return ErrSessionClosed
	}

	if session.UserID == userID {
		return nil
	}

	switch role {
	case types.RoleManager, types.RoleAdmin:
		return nil
	case types.RoleSupport:
		if session.SessionType == types.SessionTypeSupport {
			return nil
		}
		return ErrUnauthorized
	case types.RoleCustomer:
		return ErrUnauthorized
	default:
		return ErrInvalidRole
	}
}

// IsSessionActive checks if a session is active (cache-only check)
func (m *Manager) IsSessionActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.activeSessions[sessionID]
	return exists && session.Status == types.SessionStatusActive
}

// RefreshCache reloads active sessions from database
func (m *Manager) RefreshCache(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh session cache: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeSessions = make(map[string]*types.Session)
	m.byUserType = make(map[string]string)

	for _, session := range sessions {
		m.activeSessions[session.ID] = session
		m.byUserType[cacheKey(session.UserID, session.SessionType)] = session.ID
	}

	log.Printf("Refreshed session cache: %d active sessions", len(sessions))
	return nil
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	supportCount := 0
	for _, session := range m.activeSessions {
		if session.SessionType == types.SessionTypeSupport {
			supportCount++
		}
	}

	return map[string]interface{}{
		"active_sessions":  len(m.activeSessions),
		"support_sessions": supportCount,
	}
}
