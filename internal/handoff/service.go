package handoff

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"livedesk/internal/assignment"
	"livedesk/internal/session"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Service moves support conversations between agents without losing context.
// ARCHITECTURAL DISCOVERY: Handoffs are written into the session timeline as
// system messages, so the transfer history is readable in the conversation
// itself, not only in the assignment table
type Service struct {
	dbManager   interfaces.DatabaseManager
	sessions    *session.Manager
	assignments *assignment.Service
	directory   interfaces.UserDirectory
	notifier    interfaces.Notifier
}

// NewService creates the handoff service. notifier may be nil.
func NewService(dbManager interfaces.DatabaseManager, sessions *session.Manager, assignments *assignment.Service, directory interfaces.UserDirectory, notifier interfaces.Notifier) *Service {
	return &Service{
		dbManager:   dbManager,
		sessions:    sessions,
		assignments: assignments,
		directory:   directory,
		notifier:    notifier,
	}
}

// HandoffHistory groups a session's transfers, escalations and notes.
type HandoffHistory struct {
	Transfers   []*types.SupportAssignment `json:"transfers"`
	Escalations []*types.SupportAssignment `json:"escalations"`
	Notes       []*types.HandoffNote       `json:"notes"`
}

// ExecuteHandoff transfers a session from one agent to another with full
// context. The steps run in a fixed order: timeline record first, then the
// optional private note, then the assignment change, then notifications.
// A failure surfaces immediately; nothing after the failing step runs.
func (s *Service) ExecuteHandoff(ctx context.Context, sessionID, fromUserID, toUserID, reason, privateNotes string, transferredBy *string) (*types.HandoffContext, error) {
	handoffContext, err := s.BuildContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	handoffContext.HandoffReason = reason

	var fromUser, toUser *types.User
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		fromUser, err = s.directory.GetUser(groupCtx, fromUserID)
		return err
	})
	group.Go(func() error {
		var err error
		toUser, err = s.directory.GetUser(groupCtx, toUserID)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSupportUserNotFound, err)
	}

	transfer := &types.TransferRecord{
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		Reason:         reason,
		ContextSummary: handoffContext.ContextSummary,
		UrgencyLevel:   handoffContext.UrgencyLevel,
	}
	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderType:  types.SenderTypeSupport,
		SenderID:    &fromUserID,
		Content:     fmt.Sprintf("Chat transferred from %s to %s. Reason: %s", fromUser.Name, toUser.Name, reason),
		MessageType: types.MessageTypeSystem,
		Metadata:    &types.MessageMetadata{Transfer: transfer},
		CreatedAt:   time.Now(),
	}
	if err := s.dbManager.StoreMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to store handoff message: %w", err)
	}

	if privateNotes != "" {
		if _, err := s.AddNote(ctx, sessionID, fromUserID, privateNotes, true, nil); err != nil {
			return nil, err
		}
	}

	actor := fromUserID
	if transferredBy != nil {
		actor = *transferredBy
	}
	if _, err := s.assignments.Transfer(ctx, sessionID, toUserID, &actor, "Handoff: "+reason); err != nil {
		return nil, fmt.Errorf("failed to transfer assignment: %w", err)
	}

	if s.notifier != nil {
		s.notifier.SendToUser(toUserID, types.EventNotification, map[string]interface{}{
			"type":            "handoff-received",
			"session_id":      sessionID,
			"customer_info":   handoffContext.CustomerInfo,
			"context_summary": handoffContext.ContextSummary,
			"urgency_level":   handoffContext.UrgencyLevel,
			"handoff_reason":  handoffContext.HandoffReason,
			"message_count":   len(handoffContext.PreviousMessages),
			"timestamp":       time.Now(),
		})
		s.notifier.BroadcastToSession(sessionID, types.EventSupportTransferred, types.SupportTransfer{
			SessionID:         sessionID,
			FromSupportUserID: fromUserID,
			ToSupportUserID:   toUserID,
			TransferredBy:     actor,
			Notes:             reason,
		}, "")
	}

	log.Printf("Executed handoff for session %s from %s to %s", sessionID, fromUserID, toUserID)
	return handoffContext, nil
}

// ExecuteEscalation hands a session to a manager with full context. urgency
// defaults to high.
func (s *Service) ExecuteEscalation(ctx context.Context, sessionID, escalatedBy, reason, urgency, privateNotes string) (*types.HandoffContext, error) {
	if urgency == "" {
		urgency = types.UrgencyHigh
	}

	handoffContext, err := s.BuildContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	handoffContext.HandoffReason = "Escalation: " + reason
	handoffContext.UrgencyLevel = urgency

	escalatingUser, err := s.directory.GetUser(ctx, escalatedBy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSupportUserNotFound, err)
	}

	record := &types.EscalationRecord{
		Reason:      reason,
		Priority:    priorityForUrgency(urgency),
		EscalatedBy: escalatedBy,
		EscalatedAt: time.Now(),
		Notes:       handoffContext.ContextSummary,
	}
	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderType:  types.SenderTypeSupport,
		SenderID:    &escalatedBy,
		Content:     fmt.Sprintf("Chat escalated by %s. Reason: %s", escalatingUser.Name, reason),
		MessageType: types.MessageTypeSystem,
		Metadata:    &types.MessageMetadata{Escalation: record},
		CreatedAt:   time.Now(),
	}
	if err := s.dbManager.StoreMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to store escalation message: %w", err)
	}

	if privateNotes != "" {
		if _, err := s.AddNote(ctx, sessionID, escalatedBy, "Escalation notes: "+privateNotes, true, nil); err != nil {
			return nil, err
		}
	}

	newAssignment, err := s.assignments.Escalate(ctx, sessionID, &escalatedBy, "Escalation: "+reason)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate assignment: %w", err)
	}

	if s.notifier != nil {
		s.notifier.SendToUser(newAssignment.SupportUserID, types.EventNotification, map[string]interface{}{
			"type":              "escalation-received",
			"session_id":        sessionID,
			"customer_info":     handoffContext.CustomerInfo,
			"context_summary":   handoffContext.ContextSummary,
			"urgency_level":     urgency,
			"escalation_reason": handoffContext.HandoffReason,
			"message_count":     len(handoffContext.PreviousMessages),
			"timestamp":         time.Now(),
		})
		s.notifier.SendToRoles(types.ManagerRoles, types.EventEscalationAlert, map[string]interface{}{
			"type":              "escalation-alert",
			"session_id":        sessionID,
			"customer_info":     handoffContext.CustomerInfo,
			"urgency_level":     urgency,
			"escalation_reason": handoffContext.HandoffReason,
			"timestamp":         time.Now(),
		})
		s.notifier.BroadcastToSession(sessionID, types.EventSupportEscalated, types.SupportEscalation{
			SessionID:   sessionID,
			EscalatedBy: escalatedBy,
			EscalatedTo: newAssignment.SupportUserID,
			Notes:       reason,
		}, "")
	}

	log.Printf("Executed escalation for session %s by %s", sessionID, escalatedBy)
	return handoffContext, nil
}

func priorityForUrgency(urgency string) string {
	switch urgency {
	case types.UrgencyCritical:
		return types.PriorityUrgent
	case types.UrgencyHigh:
		return types.PriorityHigh
	case types.UrgencyMedium:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// AddNote attaches a note to the session timeline as a system message.
// Private notes show "[Private Note]" as their visible content; the real
// text lives in metadata and is only returned to support viewers.
func (s *Service) AddNote(ctx context.Context, sessionID, authorID, content string, isPrivate bool, tags []string) (*types.HandoffNote, error) {
	author, err := s.directory.GetUser(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorNotFound, err)
	}

	visible := content
	if isPrivate {
		visible = "[Private Note]"
	}

	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderType:  types.SenderTypeSupport,
		SenderID:    &authorID,
		Content:     visible,
		MessageType: types.MessageTypeSystem,
		Metadata: &types.MessageMetadata{Note: &types.NoteMetadata{
			IsPrivate:  isPrivate,
			Content:    content,
			AuthorName: author.Name,
			Tags:       tags,
		}},
		CreatedAt: time.Now(),
	}
	if err := s.dbManager.StoreMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to store note: %w", err)
	}

	note := &types.HandoffNote{
		ID:         message.ID,
		SessionID:  sessionID,
		AuthorID:   authorID,
		AuthorName: author.Name,
		Content:    content,
		IsPrivate:  isPrivate,
		Tags:       tags,
		CreatedAt:  message.CreatedAt,
	}

	if !isPrivate && s.notifier != nil {
		s.notifier.BroadcastToSession(sessionID, types.EventSessionUpdated, map[string]interface{}{
			"type": "handoff-note",
			"note": note,
		}, "")
	}

	return note, nil
}

// Notes returns the session's handoff notes oldest first. Private notes are
// included only when the viewer is support staff.
func (s *Service) Notes(ctx context.Context, sessionID string, includePrivate bool) ([]*types.HandoffNote, error) {
	messages, err := s.dbManager.GetSessionHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var notes []*types.HandoffNote
	for _, message := range messages {
		if message.MessageType != types.MessageTypeSystem || message.Metadata == nil || message.Metadata.Note == nil {
			continue
		}
		meta := message.Metadata.Note
		if meta.IsPrivate && !includePrivate {
			continue
		}
		authorID := ""
		if message.SenderID != nil {
			authorID = *message.SenderID
		}
		notes = append(notes, &types.HandoffNote{
			ID:         message.ID,
			SessionID:  sessionID,
			AuthorID:   authorID,
			AuthorName: meta.AuthorName,
			Content:    meta.Content,
			IsPrivate:  meta.IsPrivate,
			Tags:       meta.Tags,
			CreatedAt:  message.CreatedAt,
		})
	}
	return notes, nil
}

// History returns a session's transfers, escalations and notes in one view.
func (s *Service) History(ctx context.Context, sessionID string) (*HandoffHistory, error) {
	var (
		assignments []*types.SupportAssignment
		notes       []*types.HandoffNote
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		assignments, err = s.dbManager.ListSessionAssignments(groupCtx, sessionID)
		return err
	})
	group.Go(func() error {
		var err error
		notes, err = s.Notes(groupCtx, sessionID, true)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	history := &HandoffHistory{Notes: notes}
	for _, a := range assignments {
		switch {
		case a.AssignmentType == types.AssignmentTypeEscalated:
			history.Escalations = append(history.Escalations, a)
		case a.AssignmentType == types.AssignmentTypeManual && strings.Contains(a.Notes, "Handoff"):
			history.Transfers = append(history.Transfers, a)
		}
	}
	return history, nil
}
