package database

import (
	"context"
	"sort"
	"sync"

	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// MemoryStore is an in-memory DatabaseManager for tests and ephemeral runs
// ARCHITECTURAL DISCOVERY: Implementing the full interface in memory keeps
// service-layer tests hermetic without a SQLite file per test
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	messages    map[string][]*types.Message // sessionID -> chronological
	assignments map[string]*types.SupportAssignment
	rules       map[string]*types.RoutingRule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*types.Session),
		messages:    make(map[string][]*types.Message),
		assignments: make(map[string]*types.SupportAssignment),
		rules:       make(map[string]*types.RoutingRule),
	}
}

var _ interfaces.DatabaseManager = (*MemoryStore)(nil)

func (s *MemoryStore) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; !exists {
		return interfaces.ErrSessionNotFound
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) FindActiveSession(ctx context.Context, userID, sessionType string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *types.Session
	for _, session := range s.sessions {
		if session.UserID != userID || session.SessionType != sessionType {
			continue
		}
		if session.Status != types.SessionStatusActive {
			continue
		}
		if newest == nil || session.CreatedAt.After(newest.CreatedAt) {
			newest = session
		}
	}
	if newest == nil {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *newest
	return &copied, nil
}

func (s *MemoryStore) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return s.listSessions(func(session *types.Session) bool {
		return session.Status == types.SessionStatusActive
	})
}

func (s *MemoryStore) ListActiveSessionsByType(ctx context.Context, sessionType string) ([]*types.Session, error) {
	return s.listSessions(func(session *types.Session) bool {
		return session.Status == types.SessionStatusActive && session.SessionType == sessionType
	})
}

func (s *MemoryStore) listSessions(keep func(*types.Session) bool) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*types.Session
	for _, session := range s.sessions {
		if keep(session) {
			copied := *session
			sessions = append(sessions, &copied)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *MemoryStore) StoreMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *message
	s.messages[message.SessionID] = append(s.messages[message.SessionID], &copied)
	return nil
}

func (s *MemoryStore) UpdateMessageMetadata(ctx context.Context, messageID string, metadata *types.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, timeline := range s.messages {
		for _, message := range timeline {
			if message.ID == messageID {
				message.Metadata = metadata
				return nil
			}
		}
	}
	return interfaces.ErrSessionNotFound
}

func (s *MemoryStore) GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	timeline := s.messages[sessionID]
	messages := make([]*types.Message, 0, len(timeline))
	for _, message := range timeline {
		copied := *message
		messages = append(messages, &copied)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *MemoryStore) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	history, err := s.GetSessionHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Newest first
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (s *MemoryStore) CreateAssignment(ctx context.Context, assignment *types.SupportAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *assignment
	s.assignments[assignment.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateAssignment(ctx context.Context, assignment *types.SupportAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[assignment.ID]; !exists {
		return interfaces.ErrAssignmentNotFound
	}
	copied := *assignment
	s.assignments[assignment.ID] = &copied
	return nil
}

func (s *MemoryStore) GetActiveAssignment(ctx context.Context, sessionID string) (*types.SupportAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *types.SupportAssignment
	for _, assignment := range s.assignments {
		if assignment.SessionID != sessionID || assignment.Status != types.AssignmentStatusActive {
			continue
		}
		if newest == nil || assignment.AssignedAt.After(newest.AssignedAt) {
			newest = assignment
		}
	}
	if newest == nil {
		return nil, interfaces.ErrAssignmentNotFound
	}
	copied := *newest
	return &copied, nil
}

func (s *MemoryStore) ListSessionAssignments(ctx context.Context, sessionID string) ([]*types.SupportAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var assignments []*types.SupportAssignment
	for _, assignment := range s.assignments {
		if assignment.SessionID == sessionID {
			copied := *assignment
			assignments = append(assignments, &copied)
		}
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (s *MemoryStore) CountActiveAssignments(ctx context.Context, supportUserID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, assignment := range s.assignments {
		if assignment.SupportUserID == supportUserID && assignment.Status == types.AssignmentStatusActive {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListActiveRules(ctx context.Context, kind string) ([]*types.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rules []*types.RoutingRule
	for _, rule := range s.rules {
		if rule.Kind == kind && rule.IsActive {
			copied := *rule
			rules = append(rules, &copied)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return rules, nil
}

// SaveRule installs a rule; mirrors the SQLite manager's helper.
func (s *MemoryStore) SaveRule(ctx context.Context, rule *types.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
