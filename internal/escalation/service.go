package escalation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"livedesk/internal/assignment"
	"livedesk/internal/session"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

const (
	// AnalysisWindow is how many recent messages the analyzer inspects.
	AnalysisWindow = 10

	// EscalationThreshold is the minimum analyzer confidence that triggers
	// an automatic escalation.
	EscalationThreshold = 0.6
)

// Service turns general conversations into support conversations.
// ARCHITECTURAL DISCOVERY: Escalation is a session type flip plus a recorded
// reason - the timeline, room and identity all survive the transition
type Service struct {
	dbManager   interfaces.DatabaseManager
	sessions    *session.Manager
	assignments *assignment.Service
	notifier    interfaces.Notifier
	analyzer    *Analyzer
}

// NewService creates the escalation service. notifier may be nil.
func NewService(dbManager interfaces.DatabaseManager, sessions *session.Manager, assignments *assignment.Service, notifier interfaces.Notifier) *Service {
	return &Service{
		dbManager:   dbManager,
		sessions:    sessions,
		assignments: assignments,
		notifier:    notifier,
		analyzer:    NewAnalyzer(),
	}
}

// Analyzer exposes the heuristic analyzer for direct use.
func (s *Service) Analyzer() *Analyzer {
	return s.analyzer
}

// MaybeEscalate analyzes recent messages of a session and escalates when the
// verdict clears the confidence threshold. It is invoked after every stored
// user message and must never disrupt message flow, so escalation failures
// are logged and swallowed.
func (s *Service) MaybeEscalate(ctx context.Context, sess *types.Session) (types.EscalationAnalysis, error) {
	if sess.SessionType == types.SessionTypeSupport || sess.Status != types.SessionStatusActive {
		return types.EscalationAnalysis{Reason: ReasonNone, Priority: types.PriorityMedium, Confidence: 0.5}, nil
	}

	messages, err := s.dbManager.GetRecentMessages(ctx, sess.ID, AnalysisWindow)
	if err != nil {
		return types.EscalationAnalysis{}, fmt.Errorf("failed to load recent messages: %w", err)
	}

	analysis := s.analyzer.Analyze(messages)
	if !analysis.ShouldEscalate || analysis.Confidence < EscalationThreshold {
		return analysis, nil
	}

	if _, err := s.Escalate(ctx, sess.ID, analysis, "system", ""); err != nil {
		log.Printf("Automatic escalation failed for session %s: %v", sess.ID, err)
	}
	return analysis, nil
}

// RequestSupport escalates a session at the user's explicit request.
func (s *Service) RequestSupport(ctx context.Context, sessionID, userID, notes string) (*types.Session, error) {
	analysis := types.EscalationAnalysis{
		ShouldEscalate: true,
		Reason:         ReasonUserRequested,
		Priority:       types.PriorityHigh,
		Confidence:     1.0,
	}
	return s.Escalate(ctx, sessionID, analysis, userID, notes)
}

// Escalate flips a session to the support type, records why, attempts an
// automatic assignment and notifies the room. Managers get an alert on
// urgent escalations.
func (s *Service) Escalate(ctx context.Context, sessionID string, analysis types.EscalationAnalysis, escalatedBy, notes string) (*types.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.SessionStatusActive {
		return nil, ErrSessionClosed
	}
	if sess.SessionType == types.SessionTypeSupport {
		return nil, ErrAlreadyEscalated
	}

	record := &types.EscalationRecord{
		Reason:      analysis.Reason,
		Priority:    analysis.Priority,
		Category:    analysis.Category,
		Confidence:  analysis.Confidence,
		EscalatedBy: escalatedBy,
		EscalatedAt: time.Now(),
		Notes:       notes,
		FromType:    sess.SessionType,
	}

	sess.SessionType = types.SessionTypeSupport
	sess.Priority = analysis.Priority
	if sess.Metadata == nil {
		sess.Metadata = &types.SessionMetadata{}
	}
	sess.Metadata.Escalation = record

	if err := s.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to update escalated session: %w", err)
	}

	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		SenderType:  types.SenderTypeSystem,
		Content:     EscalationMessage(analysis.Reason, analysis.Priority),
		MessageType: types.MessageTypeSystem,
		Metadata:    &types.MessageMetadata{Escalation: record},
		CreatedAt:   time.Now(),
	}
	if err := s.dbManager.StoreMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to store escalation message: %w", err)
	}

	// Assignment is best effort; an escalated session without an agent
	// stays in the support queue and is picked up by routing
	if s.assignments != nil {
		if _, err := s.assignments.AutoAssign(ctx, sess, nil); err != nil {
			log.Printf("Auto-assignment after escalation failed for session %s: %v", sess.ID, err)
		}
	}

	if s.notifier != nil {
		s.notifier.BroadcastToSession(sess.ID, types.EventSupportEscalated, types.SupportEscalation{
			SessionID:   sess.ID,
			EscalatedBy: escalatedBy,
			Notes:       notes,
		}, "")
		if analysis.Priority == types.PriorityUrgent {
			s.notifier.SendToRoles(types.ManagerRoles, types.EventEscalationAlert, map[string]interface{}{
				"session_id": sess.ID,
				"reason":     analysis.Reason,
				"priority":   analysis.Priority,
				"confidence": analysis.Confidence,
			})
		}
	}

	return sess, nil
}

// History returns the escalation records of a session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]*types.EscalationRecord, error) {
	messages, err := s.dbManager.GetSessionHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var records []*types.EscalationRecord
	for _, message := range messages {
		if message.SenderType == types.SenderTypeSystem && message.Metadata != nil && message.Metadata.Escalation != nil {
			records = append(records, message.Metadata.Escalation)
		}
	}
	return records, nil
}

// Statistics summarizes active support sessions by escalation reason and
// priority.
func (s *Service) Statistics(ctx context.Context) (map[string]interface{}, error) {
	sessions, err := s.dbManager.ListActiveSessionsByType(ctx, types.SessionTypeSupport)
	if err != nil {
		return nil, err
	}

	byReason := make(map[string]int)
	byPriority := make(map[string]int)
	for _, sess := range sessions {
		if sess.Metadata != nil && sess.Metadata.Escalation != nil {
			byReason[sess.Metadata.Escalation.Reason]++
		} else {
			byReason[ReasonUserRequested]++
		}
		priority := sess.Priority
		if priority == "" {
			priority = types.PriorityMedium
		}
		byPriority[priority]++
	}

	return map[string]interface{}{
		"active_support_sessions": len(sessions),
		"by_reason":               byReason,
		"by_priority":             byPriority,
	}, nil
}
