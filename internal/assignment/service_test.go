package assignment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"livedesk/internal/database"
	"livedesk/internal/rules"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

type fakeDirectory struct {
	users map[string]*types.User
}

func (f *fakeDirectory) GetUser(ctx context.Context, userID string) (*types.User, error) {
	user, exists := f.users[userID]
	if !exists {
		return nil, interfaces.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeDirectory) ListByRole(ctx context.Context, roles ...string) ([]*types.User, error) {
	var matched []*types.User
	for _, user := range f.users {
		if user.HasRole(roles...) {
			matched = append(matched, user)
		}
	}
	return matched, nil
}

func supportUser(id string) *types.User {
	return &types.User{ID: id, Name: id, Roles: []string{types.RoleSupport}, IsActive: true}
}

func managerUser(id string) *types.User {
	return &types.User{ID: id, Name: id, Roles: []string{types.RoleManager}, IsActive: true}
}

func newTestService(users ...*types.User) (*Service, *database.MemoryStore) {
	store := database.NewMemoryStore()
	directory := &fakeDirectory{users: make(map[string]*types.User)}
	for _, user := range users {
		directory.users[user.ID] = user
	}
	return NewService(store, directory, nil, nil), store
}

func seedSession(t *testing.T, store *database.MemoryStore, id string) *types.Session {
	session := &types.Session{
		ID:          id,
		UserID:      "cust-" + id,
		SessionType: types.SessionTypeSupport,
		Status:      types.SessionStatusActive,
		Priority:    types.PriorityMedium,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session failed: %v", err)
	}
	return session
}

func TestAssign_Success(t *testing.T) {
	service, store := newTestService(supportUser("agent1"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	assignment, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, "take this one")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if assignment.Status != types.AssignmentStatusActive {
		t.Errorf("Expected active status, got '%s'", assignment.Status)
	}
	if assignment.SupportUserID != "agent1" {
		t.Errorf("Expected agent1, got '%s'", assignment.SupportUserID)
	}

	active, err := service.GetActive(ctx, "s1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != assignment.ID {
		t.Error("GetActive should return the created assignment")
	}
}

func TestAssign_Validation(t *testing.T) {
	customer := &types.User{ID: "cust1", Roles: []string{types.RoleCustomer}, IsActive: true}
	inactive := &types.User{ID: "gone", Roles: []string{types.RoleSupport}, IsActive: false}
	service, store := newTestService(supportUser("agent1"), customer, inactive)
	ctx := context.Background()
	seedSession(t, store, "s1")

	if _, err := service.Assign(ctx, "s1", "ghost", nil, types.AssignmentTypeManual, ""); err != ErrAgentNotFound {
		t.Errorf("Expected ErrAgentNotFound, got %v", err)
	}
	if _, err := service.Assign(ctx, "s1", "cust1", nil, types.AssignmentTypeManual, ""); err != ErrAgentNotSupport {
		t.Errorf("Expected ErrAgentNotSupport for customer, got %v", err)
	}
	if _, err := service.Assign(ctx, "s1", "gone", nil, types.AssignmentTypeManual, ""); err != ErrAgentNotSupport {
		t.Errorf("Expected ErrAgentNotSupport for inactive agent, got %v", err)
	}

	// Double assignment rejected
	if _, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, ""); err != ErrAlreadyAssigned {
		t.Errorf("Expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestAssign_SupportCapacityCap(t *testing.T) {
	service, store := newTestService(supportUser("agent1"))
	ctx := context.Background()

	for i := 0; i < SupportCapacity; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		seedSession(t, store, sessionID)
		if _, err := service.Assign(ctx, sessionID, "agent1", nil, types.AssignmentTypeManual, ""); err != nil {
			t.Fatalf("Assign %d failed: %v", i, err)
		}
	}

	seedSession(t, store, "overflow")
	if _, err := service.Assign(ctx, "overflow", "agent1", nil, types.AssignmentTypeManual, ""); err != ErrAgentAtCapacity {
		t.Errorf("Expected ErrAgentAtCapacity, got %v", err)
	}
}

func TestAssign_ManagerCapacityIsHigher(t *testing.T) {
	service, store := newTestService(managerUser("mgr1"))
	ctx := context.Background()

	for i := 0; i < ManagerCapacity; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		seedSession(t, store, sessionID)
		if _, err := service.Assign(ctx, sessionID, "mgr1", nil, types.AssignmentTypeEscalated, ""); err != nil {
			t.Fatalf("Assign %d failed: %v", i, err)
		}
	}

	seedSession(t, store, "overflow")
	if _, err := service.Assign(ctx, "overflow", "mgr1", nil, types.AssignmentTypeEscalated, ""); err != ErrAgentAtCapacity {
		t.Errorf("Expected ErrAgentAtCapacity, got %v", err)
	}
}

func TestTransfer_PreservesHistory(t *testing.T) {
	service, store := newTestService(supportUser("agent1"), supportUser("agent2"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	first, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeAuto, "")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	by := "agent1"
	second, err := service.Transfer(ctx, "s1", "agent2", &by, "handing off before my shift ends")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if second.SupportUserID != "agent2" {
		t.Errorf("Expected agent2, got '%s'", second.SupportUserID)
	}
	if second.AssignmentType != types.AssignmentTypeManual {
		t.Errorf("Transfers create manual assignments, got '%s'", second.AssignmentType)
	}

	history, err := service.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 assignments in history, got %d", len(history))
	}

	// Newest first
	if history[0].ID != second.ID {
		t.Error("Newest assignment should be first in history")
	}
	if history[1].ID != first.ID || history[1].Status != types.AssignmentStatusTransferred {
		t.Errorf("Old assignment should be marked transferred, got '%s'", history[1].Status)
	}
	if history[1].CompletedAt == nil {
		t.Error("Transferred assignment should carry an end time")
	}
}

func TestTransfer_Errors(t *testing.T) {
	service, store := newTestService(supportUser("agent1"), supportUser("agent2"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	if _, err := service.Transfer(ctx, "s1", "agent2", nil, ""); err != ErrNotAssigned {
		t.Errorf("Expected ErrNotAssigned, got %v", err)
	}

	if _, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if _, err := service.Transfer(ctx, "s1", "agent1", nil, ""); err != ErrSelfTransfer {
		t.Errorf("Expected ErrSelfTransfer, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	service, store := newTestService(supportUser("agent1"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	if err := service.Complete(ctx, "s1", ""); err != ErrNotAssigned {
		t.Errorf("Expected ErrNotAssigned, got %v", err)
	}

	if _, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := service.Complete(ctx, "s1", "resolved"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if _, err := service.GetActive(ctx, "s1"); err != ErrNotAssigned {
		t.Errorf("Completed session should have no active assignment, got %v", err)
	}

	history, _ := service.History(ctx, "s1")
	if len(history) != 1 || history[0].Status != types.AssignmentStatusCompleted {
		t.Error("Assignment should be marked completed in history")
	}
	if history[0].Notes != "resolved" {
		t.Errorf("Expected completion note, got '%s'", history[0].Notes)
	}
}

func TestLeastLoadedAgent(t *testing.T) {
	service, store := newTestService(supportUser("busy"), supportUser("idle"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		seedSession(t, store, sessionID)
		if _, err := service.Assign(ctx, sessionID, "busy", nil, types.AssignmentTypeAuto, ""); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
	}

	agent, err := service.LeastLoadedAgent(ctx, types.RoleSupport)
	if err != nil {
		t.Fatalf("LeastLoadedAgent failed: %v", err)
	}
	if agent.ID != "idle" {
		t.Errorf("Expected idle agent, got '%s'", agent.ID)
	}
}

func TestLeastLoadedAgent_NoneAvailable(t *testing.T) {
	service, _ := newTestService()

	if _, err := service.LeastLoadedAgent(context.Background(), types.RoleSupport); err != ErrNoAvailableAgent {
		t.Errorf("Expected ErrNoAvailableAgent, got %v", err)
	}
}

func TestAutoAssign_RuleTargetWins(t *testing.T) {
	store := database.NewMemoryStore()
	directory := &fakeDirectory{users: map[string]*types.User{
		"specialist": supportUser("specialist"),
		"generalist": supportUser("generalist"),
	}}

	engine := rules.NewEngine()
	err := engine.Load([]*types.RoutingRule{
		{
			ID:       "billing-to-specialist",
			Name:     "billing-to-specialist",
			Kind:     types.RuleKindAssignment,
			IsActive: true,
			Priority: 10,
			Conditions: map[string]interface{}{
				"metadata.escalation.category": "billing",
			},
			AssignToID: "specialist",
		},
	})
	if err != nil {
		t.Fatalf("engine.Load failed: %v", err)
	}

	service := NewService(store, directory, nil, engine)
	ctx := context.Background()

	session := seedSession(t, store, "s1")
	session.Metadata = &types.SessionMetadata{
		Escalation: &types.EscalationRecord{Category: "billing", Reason: "account-billing"},
	}

	assignment, err := service.AutoAssign(ctx, session, nil)
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	if assignment.SupportUserID != "specialist" {
		t.Errorf("Expected rule-targeted specialist, got '%s'", assignment.SupportUserID)
	}
	if assignment.AssignmentType != types.AssignmentTypeAuto {
		t.Errorf("Expected auto assignment, got '%s'", assignment.AssignmentType)
	}
}

func TestAutoAssign_FallsBackToLeastLoaded(t *testing.T) {
	service, store := newTestService(supportUser("agent1"))
	ctx := context.Background()

	session := seedSession(t, store, "s1")
	assignment, err := service.AutoAssign(ctx, session, nil)
	if err != nil {
		t.Fatalf("AutoAssign failed: %v", err)
	}
	if assignment.SupportUserID != "agent1" {
		t.Errorf("Expected fallback to agent1, got '%s'", assignment.SupportUserID)
	}
}

func TestAutoAssign_AlreadyAssigned(t *testing.T) {
	service, store := newTestService(supportUser("agent1"))
	ctx := context.Background()

	session := seedSession(t, store, "s1")
	if _, err := service.Assign(ctx, "s1", "agent1", nil, types.AssignmentTypeManual, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	if _, err := service.AutoAssign(ctx, session, nil); err != ErrAlreadyAssigned {
		t.Errorf("Expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestEscalate_TransfersToManager(t *testing.T) {
	service, store := newTestService(supportUser("agent-1"), managerUser("mgr-1"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	if _, err := service.Assign(ctx, "s1", "agent-1", nil, types.AssignmentTypeAuto, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	escalatedBy := "agent-1"
	next, err := service.Escalate(ctx, "s1", &escalatedBy, "customer demands a manager")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if next.SupportUserID != "mgr-1" {
		t.Errorf("Escalated to %q, want mgr-1", next.SupportUserID)
	}
	if next.AssignmentType != types.AssignmentTypeEscalated {
		t.Errorf("Assignment type = %q, want escalated", next.AssignmentType)
	}

	history, err := service.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 assignments in history, got %d", len(history))
	}
	for _, assignment := range history {
		if assignment.SupportUserID == "agent-1" && assignment.Status != types.AssignmentStatusTransferred {
			t.Errorf("Previous assignment status = %q, want transferred", assignment.Status)
		}
	}
}

func TestEscalate_UnassignedSession(t *testing.T) {
	service, store := newTestService(managerUser("mgr-1"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	next, err := service.Escalate(ctx, "s1", nil, "")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if next.SupportUserID != "mgr-1" || next.AssignmentType != types.AssignmentTypeEscalated {
		t.Errorf("Unexpected assignment: %+v", next)
	}
}

func TestEscalate_NoManagers(t *testing.T) {
	service, store := newTestService(supportUser("agent-1"))
	ctx := context.Background()
	seedSession(t, store, "s1")

	if _, err := service.Escalate(ctx, "s1", nil, ""); !errors.Is(err, ErrNoAvailableAgent) {
		t.Errorf("Expected ErrNoAvailableAgent, got %v", err)
	}
}
