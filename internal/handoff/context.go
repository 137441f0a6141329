package handoff

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"livedesk/pkg/types"
)

// ContextWindow is how many recent messages a handoff context carries.
const ContextWindow = 20

// urgentKeywords bump handoff urgency when they appear in the most recent
// messages of a session.
var urgentKeywords = []string{
	"urgent", "critical", "emergency", "asap",
	"immediately", "broken", "down", "not working",
}

// BuildContext assembles everything a receiving agent needs about a session:
// recent messages, a generated summary, customer identity, the assignment
// chain and an urgency estimate.
// TECHNICAL DISCOVERY: The three reads are independent, so they run
// concurrently and the context is assembled once all have landed
func (s *Service) BuildContext(ctx context.Context, sessionID string) (*types.HandoffContext, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var (
		recentMessages []*types.Message
		assignments    []*types.SupportAssignment
		customer       *types.User
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		recentMessages, err = s.dbManager.GetRecentMessages(groupCtx, sessionID, ContextWindow)
		if err != nil {
			return fmt.Errorf("failed to load recent messages: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		assignments, err = s.dbManager.ListSessionAssignments(groupCtx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load assignments: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		var err error
		customer, err = s.directory.GetUser(groupCtx, sess.UserID)
		if err != nil {
			// Customer identity is informational; the handoff proceeds
			// with placeholders rather than failing
			log.Printf("Handoff context: customer %s lookup failed: %v", sess.UserID, err)
			customer = nil
			return nil
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	customerInfo := types.CustomerInfo{UserID: sess.UserID, UserName: "Unknown User", Email: "unknown@example.com"}
	if customer != nil {
		customerInfo.UserName = customer.Name
		customerInfo.Email = customer.Email
	}

	// recentMessages arrive newest first; summary and urgency read them
	// that way, the context itself carries them chronologically
	summary := buildSummary(sess, recentMessages)
	urgency := determineUrgency(sess, recentMessages, assignments)

	chronological := make([]*types.Message, len(recentMessages))
	for i, message := range recentMessages {
		chronological[len(recentMessages)-1-i] = message
	}

	return &types.HandoffContext{
		SessionID:           sessionID,
		PreviousMessages:    chronological,
		ContextSummary:      summary,
		CustomerInfo:        customerInfo,
		PreviousAssignments: assignments,
		HandoffReason:       "Transfer requested",
		UrgencyLevel:        urgency,
	}, nil
}

// buildSummary renders a short narrative of the session for the receiving
// agent. messages are newest first.
func buildSummary(sess *types.Session, messages []*types.Message) string {
	if len(messages) == 0 {
		return "No previous conversation history."
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Session started %s. ", sess.CreatedAt.Format("2006-01-02"))

	var latestUser *types.Message
	var hasSupport, hasAI, hasFile, hasURL bool
	for _, message := range messages {
		switch message.SenderType {
		case types.SenderTypeUser:
			if latestUser == nil {
				latestUser = message
			}
		case types.SenderTypeSupport:
			hasSupport = true
		case types.SenderTypeAI:
			hasAI = true
		}
		switch message.MessageType {
		case types.MessageTypeFile:
			hasFile = true
		case types.MessageTypeURL:
			hasURL = true
		}
	}

	if latestUser != nil {
		concern := latestUser.Content
		if len(concern) > 100 {
			concern = concern[:100] + "..."
		}
		fmt.Fprintf(&summary, "Customer's latest concern: %q. ", concern)
	}
	if hasSupport {
		summary.WriteString("Previous support interaction provided. ")
	}
	if hasAI {
		summary.WriteString("AI assistance was provided. ")
	}
	if hasFile {
		summary.WriteString("Customer uploaded documents for analysis. ")
	}
	if hasURL {
		summary.WriteString("URLs were processed for additional context. ")
	}

	return strings.TrimSpace(summary.String())
}

// determineUrgency estimates how quickly the receiving agent should act.
// messages are newest first.
func determineUrgency(sess *types.Session, messages []*types.Message, assignments []*types.SupportAssignment) string {
	recent := messages
	if len(recent) > 5 {
		recent = recent[:5]
	}
	var recentContent strings.Builder
	for _, message := range recent {
		recentContent.WriteString(strings.ToLower(message.Content))
		recentContent.WriteString(" ")
	}
	for _, keyword := range urgentKeywords {
		if strings.Contains(recentContent.String(), keyword) {
			return types.UrgencyHigh
		}
	}

	if time.Since(sess.CreatedAt) > 24*time.Hour {
		return types.UrgencyHigh
	}

	// Multiple transfers indicate a complex case
	if len(assignments) > 2 {
		return types.UrgencyMedium
	}

	// A full context window means sustained recent activity
	if len(messages) >= ContextWindow {
		return types.UrgencyMedium
	}

	return types.UrgencyLow
}
