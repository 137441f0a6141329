package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"livedesk/internal/assignment"
	"livedesk/internal/rules"
	"livedesk/internal/session"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Sweeper periodically applies escalation rules to active sessions.
// ARCHITECTURAL DISCOVERY: Rules are reloaded from the database on every
// sweep, so operators can add or retire rules without a restart
type Sweeper struct {
	dbManager   interfaces.DatabaseManager
	sessions    *session.Manager
	assignments *assignment.Service
	notifier    interfaces.Notifier
	engine      *rules.Engine

	schedule string
	staleAge time.Duration
	cron     *cron.Cron
}

// NewSweeper creates a sweeper with a cron schedule like "*/5 * * * *".
func NewSweeper(dbManager interfaces.DatabaseManager, sessions *session.Manager, assignments *assignment.Service, notifier interfaces.Notifier, schedule string, staleAge time.Duration) *Sweeper {
	return &Sweeper{
		dbManager:   dbManager,
		sessions:    sessions,
		assignments: assignments,
		notifier:    notifier,
		engine:      rules.NewEngine(),
		schedule:    schedule,
		staleAge:    staleAge,
	}
}

// Start schedules the sweep loop.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			log.Printf("Escalation sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	log.Printf("Escalation sweeper started with schedule %q", s.schedule)
	return nil
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// Sweep reloads escalation rules and applies the highest-priority matching
// rule to each active session.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ruleSet, err := s.dbManager.ListActiveRules(ctx, types.RuleKindEscalation)
	if err != nil {
		return fmt.Errorf("failed to load escalation rules: %w", err)
	}
	if err := s.engine.Load(ruleSet); err != nil {
		return fmt.Errorf("failed to compile escalation rules: %w", err)
	}
	if s.engine.Size() == 0 {
		return nil
	}

	sessions, err := s.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	applied := 0
	for _, sess := range sessions {
		changed, err := s.sweepSession(ctx, sess)
		if err != nil {
			log.Printf("Escalation sweep skipped session %s: %v", sess.ID, err)
			continue
		}
		if changed {
			applied++
		}
	}

	if applied > 0 {
		log.Printf("Escalation sweep applied rules to %d sessions", applied)
	}
	return nil
}

func (s *Sweeper) sweepSession(ctx context.Context, sess *types.Session) (bool, error) {
	active, err := s.dbManager.GetActiveAssignment(ctx, sess.ID)
	if err != nil && !errors.Is(err, interfaces.ErrAssignmentNotFound) {
		return false, err
	}

	idle := time.Since(sess.UpdatedAt)
	record := rules.SessionRecord(sess, rules.Record{
		"idle_hours": idle.Hours(),
		"stale":      s.staleAge > 0 && idle >= s.staleAge,
		"assigned":   active != nil,
	})

	var applications map[string]int
	if sess.Metadata != nil {
		applications = sess.Metadata.RuleApplications
	}

	rule := s.engine.Match(record, rules.MatchOptions{
		IsAssigned:   active != nil,
		Applications: applications,
	})
	if rule == nil {
		return false, nil
	}

	if err := s.applyRule(ctx, sess, rule); err != nil {
		return false, err
	}
	return true, nil
}

// applyRule executes a rule's actions and records the application so
// MaxApplications caps hold across sweeps.
func (s *Sweeper) applyRule(ctx context.Context, sess *types.Session, rule *types.RoutingRule) error {
	if sess.Metadata == nil {
		sess.Metadata = &types.SessionMetadata{}
	}
	if sess.Metadata.RuleApplications == nil {
		sess.Metadata.RuleApplications = make(map[string]int)
	}
	sess.Metadata.RuleApplications[rule.ID]++

	actions := rule.Actions
	if actions == nil {
		actions = &types.RuleActions{}
	}

	if actions.SetPriority != "" {
		sess.Priority = actions.SetPriority
	}
	if actions.IncreaseEscalationLevel {
		sess.Metadata.EscalationLevel++
	}

	if err := s.sessions.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist rule application: %w", err)
	}

	if actions.AddNote != "" {
		message := &types.Message{
			ID:          uuid.New().String(),
			SessionID:   sess.ID,
			SenderType:  types.SenderTypeSystem,
			Content:     actions.AddNote,
			MessageType: types.MessageTypeSystem,
			CreatedAt:   time.Now(),
		}
		if err := s.dbManager.StoreMessage(ctx, message); err != nil {
			return fmt.Errorf("failed to store rule note: %w", err)
		}
	}

	assignTo := actions.AssignToID
	if assignTo == "" {
		assignTo = rule.AssignToID
	}
	if assignTo != "" && s.assignments != nil {
		if _, err := s.assignments.Assign(ctx, sess.ID, assignTo, nil, types.AssignmentTypeAuto, "rule: "+rule.Name); err != nil {
			log.Printf("Rule %s could not assign session %s to %s: %v", rule.Name, sess.ID, assignTo, err)
		}
	}

	if actions.NotifySupervisors && s.notifier != nil {
		s.notifier.SendToRoles(types.ManagerRoles, types.EventEscalationAlert, map[string]interface{}{
			"session_id": sess.ID,
			"rule":       rule.Name,
			"priority":   sess.Priority,
		})
	}

	return nil
}
