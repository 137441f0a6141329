package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"livedesk/internal/rules"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Capacity limits per role
// FUNCTIONAL DISCOVERY: Managers absorb escalations on top of regular load,
// so their cap is deliberately higher than front-line support
const (
	SupportCapacity = 5
	ManagerCapacity = 10
)

// Service owns the support assignment lifecycle
type Service struct {
	dbManager interfaces.DatabaseManager
	directory interfaces.UserDirectory
	notifier  interfaces.Notifier
	engine    *rules.Engine
}

// NewService creates an assignment service. engine may be nil when rule-based
// auto-assignment is not configured.
func NewService(dbManager interfaces.DatabaseManager, directory interfaces.UserDirectory, notifier interfaces.Notifier, engine *rules.Engine) *Service {
	return &Service{
		dbManager: dbManager,
		directory: directory,
		notifier:  notifier,
		engine:    engine,
	}
}

// capacityFor returns the active-assignment cap for a user's roles.
func capacityFor(user *types.User) int {
	if user.HasRole(types.RoleManager, types.RoleAdmin) {
		return ManagerCapacity
	}
	return SupportCapacity
}

// validateAgent confirms the user exists, is active and holds a support role.
func (s *Service) validateAgent(ctx context.Context, agentID string) (*types.User, error) {
	user, err := s.directory.GetUser(ctx, agentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to look up agent: %w", err)
	}
	if !user.IsActive || !user.HasRole(types.SupportRoles...) {
		return nil, ErrAgentNotSupport
	}
	return user, nil
}

// checkCapacity rejects agents already at their cap.
func (s *Service) checkCapacity(ctx context.Context, user *types.User) error {
	count, err := s.dbManager.CountActiveAssignments(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to count assignments: %w", err)
	}
	if count >= capacityFor(user) {
		return ErrAgentAtCapacity
	}
	return nil
}

// Assign creates an assignment on an unassigned session.
func (s *Service) Assign(ctx context.Context, sessionID, agentID string, assignedBy *string, assignmentType, note string) (*types.SupportAssignment, error) {
	if sessionID == "" || agentID == "" {
		return nil, ErrInvalidAssignment
	}

	user, err := s.validateAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCapacity(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.dbManager.GetActiveAssignment(ctx, sessionID); err == nil {
		return nil, ErrAlreadyAssigned
	} else if !errors.Is(err, interfaces.ErrAssignmentNotFound) {
		return nil, fmt.Errorf("failed to check active assignment: %w", err)
	}

	assignment := &types.SupportAssignment{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		SupportUserID:  agentID,
		AssignedBy:     assignedBy,
		AssignmentType: assignmentType,
		Status:         types.AssignmentStatusActive,
		Notes:          note,
		AssignedAt:     time.Now(),
	}

	if err := s.dbManager.CreateAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	log.Printf("Assigned session %s to %s (%s)", sessionID, agentID, assignmentType)

	if s.notifier != nil {
		s.notifier.SendToUser(agentID, types.EventSupportAssigned, map[string]interface{}{
			"session_id":    sessionID,
			"assignment_id": assignment.ID,
			"type":          assignmentType,
		})
	}

	return assignment, nil
}

// Transfer moves a session from its current agent to another
// FUNCTIONAL DISCOVERY: The old assignment flips to transferred (never
// deleted) and a fresh manual assignment is created, preserving the full
// chain as history
func (s *Service) Transfer(ctx context.Context, sessionID, toAgentID string, transferredBy *string, note string) (*types.SupportAssignment, error) {
	current, err := s.dbManager.GetActiveAssignment(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrAssignmentNotFound) {
			return nil, ErrNotAssigned
		}
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}

	if current.SupportUserID == toAgentID {
		return nil, ErrSelfTransfer
	}

	user, err := s.validateAgent(ctx, toAgentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCapacity(ctx, user); err != nil {
		return nil, err
	}

	now := time.Now()
	current.Status = types.AssignmentStatusTransferred
	current.CompletedAt = &now
	if err := s.dbManager.UpdateAssignment(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to close previous assignment: %w", err)
	}

	next := &types.SupportAssignment{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		SupportUserID:  toAgentID,
		AssignedBy:     transferredBy,
		AssignmentType: types.AssignmentTypeManual,
		Status:         types.AssignmentStatusActive,
		Notes:          note,
		AssignedAt:     now,
	}
	if err := s.dbManager.CreateAssignment(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to create transfer assignment: %w", err)
	}

	log.Printf("Transferred session %s from %s to %s", sessionID, current.SupportUserID, toAgentID)
	return next, nil
}

// Escalate hands a session to the least loaded manager. An existing active
// assignment is closed as transferred; the new assignment carries the
// escalated type so history shows how the manager got involved.
func (s *Service) Escalate(ctx context.Context, sessionID string, escalatedBy *string, note string) (*types.SupportAssignment, error) {
	manager, err := s.LeastLoadedAgent(ctx, types.ManagerRoles...)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	current, err := s.dbManager.GetActiveAssignment(ctx, sessionID)
	if err != nil && !errors.Is(err, interfaces.ErrAssignmentNotFound) {
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}
	if current != nil {
		if current.SupportUserID == manager.ID {
			return nil, ErrSelfTransfer
		}
		current.Status = types.AssignmentStatusTransferred
		current.CompletedAt = &now
		if err := s.dbManager.UpdateAssignment(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to close previous assignment: %w", err)
		}
	}

	next := &types.SupportAssignment{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		SupportUserID:  manager.ID,
		AssignedBy:     escalatedBy,
		AssignmentType: types.AssignmentTypeEscalated,
		Status:         types.AssignmentStatusActive,
		Notes:          note,
		AssignedAt:     now,
	}
	if err := s.dbManager.CreateAssignment(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to create escalated assignment: %w", err)
	}

	log.Printf("Escalated session %s to manager %s", sessionID, manager.ID)
	return next, nil
}

// Complete marks the session's active assignment completed.
func (s *Service) Complete(ctx context.Context, sessionID, note string) error {
	current, err := s.dbManager.GetActiveAssignment(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrAssignmentNotFound) {
			return ErrNotAssigned
		}
		return fmt.Errorf("failed to get active assignment: %w", err)
	}

	now := time.Now()
	current.Status = types.AssignmentStatusCompleted
	current.CompletedAt = &now
	if note != "" {
		current.Notes = note
	}

	if err := s.dbManager.UpdateAssignment(ctx, current); err != nil {
		return fmt.Errorf("failed to complete assignment: %w", err)
	}

	log.Printf("Completed assignment on session %s (agent %s)", sessionID, current.SupportUserID)
	return nil
}

// GetActive returns the current active assignment, or ErrNotAssigned.
func (s *Service) GetActive(ctx context.Context, sessionID string) (*types.SupportAssignment, error) {
	assignment, err := s.dbManager.GetActiveAssignment(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrAssignmentNotFound) {
			return nil, ErrNotAssigned
		}
		return nil, err
	}
	return assignment, nil
}

// History returns the session's assignment chain, newest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]*types.SupportAssignment, error) {
	return s.dbManager.ListSessionAssignments(ctx, sessionID)
}

// LeastLoadedAgent picks the active agent in the given roles with the
// fewest active assignments and free capacity.
func (s *Service) LeastLoadedAgent(ctx context.Context, roles ...string) (*types.User, error) {
	candidates, err := s.directory.ListByRole(ctx, roles...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var best *types.User
	bestLoad := -1
	for _, candidate := range candidates {
		if !candidate.IsActive {
			continue
		}
		count, err := s.dbManager.CountActiveAssignments(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count assignments: %w", err)
		}
		if count >= capacityFor(candidate) {
			continue
		}
		if best == nil || count < bestLoad {
			best = candidate
			bestLoad = count
		}
	}

	if best == nil {
		return nil, ErrNoAvailableAgent
	}
	return best, nil
}

// AutoAssign routes an unassigned session to an agent
// FUNCTIONAL DISCOVERY: Assignment rules are consulted first; when no rule
// names an available agent, fall back to the least-loaded support agent
func (s *Service) AutoAssign(ctx context.Context, session *types.Session, extra rules.Record) (*types.SupportAssignment, error) {
	if _, err := s.dbManager.GetActiveAssignment(ctx, session.ID); err == nil {
		return nil, ErrAlreadyAssigned
	} else if !errors.Is(err, interfaces.ErrAssignmentNotFound) {
		return nil, fmt.Errorf("failed to check active assignment: %w", err)
	}

	if s.engine != nil {
		var applications map[string]int
		if session.Metadata != nil {
			applications = session.Metadata.RuleApplications
		}

		record := rules.SessionRecord(session, extra)
		if rule := s.engine.Match(record, rules.MatchOptions{Applications: applications}); rule != nil && rule.AssignToID != "" {
			assignment, err := s.Assign(ctx, session.ID, rule.AssignToID, nil, types.AssignmentTypeAuto, "rule: "+rule.Name)
			if err == nil {
				return assignment, nil
			}
			// Named agent unavailable - fall through to load balancing
			log.Printf("Rule %s targeted unavailable agent %s: %v", rule.Name, rule.AssignToID, err)
		}
	}

	agent, err := s.LeastLoadedAgent(ctx, types.RoleSupport)
	if err != nil {
		return nil, err
	}

	return s.Assign(ctx, session.ID, agent.ID, nil, types.AssignmentTypeAuto, "")
}
