package interfaces

import (
	"context"

	"livedesk/pkg/types"
)

// DatabaseManager handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	// Session operations

	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by id, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession updates status, title, metadata and timestamps.
	UpdateSession(ctx context.Context, session *types.Session) error

	// FindActiveSession returns the active session for a user and type,
	// or ErrSessionNotFound
	// FUNCTIONAL DISCOVERY: Lookup backs the at-most-one-active invariant
	// per (userID, sessionType) enforced by the session service
	FindActiveSession(ctx context.Context, userID, sessionType string) (*types.Session, error)

	// ListActiveSessions returns all active sessions.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ListActiveSessionsByType returns active sessions of one type.
	ListActiveSessionsByType(ctx context.Context, sessionType string) ([]*types.Session, error)

	// Message operations

	// StoreMessage appends a message to a session's timeline
	// FUNCTIONAL DISCOVERY: Storage must complete before live fan-out so the
	// durable log never trails what clients have seen
	StoreMessage(ctx context.Context, message *types.Message) error

	// UpdateMessageMetadata rewrites only the metadata column of a message,
	// used for edit/delete flags on the append-only timeline.
	UpdateMessageMetadata(ctx context.Context, messageID string, metadata *types.MessageMetadata) error

	// GetSessionHistory returns all messages of a session in chronological order.
	GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Message, error)

	// GetRecentMessages returns up to limit most recent messages,
	// newest first.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error)

	// Assignment operations

	// CreateAssignment persists a new support assignment.
	CreateAssignment(ctx context.Context, assignment *types.SupportAssignment) error

	// UpdateAssignment updates status, notes and completion time.
	UpdateAssignment(ctx context.Context, assignment *types.SupportAssignment) error

	// GetActiveAssignment returns the current active assignment for a
	// session, or ErrAssignmentNotFound.
	GetActiveAssignment(ctx context.Context, sessionID string) (*types.SupportAssignment, error)

	// ListSessionAssignments returns all assignments of a session,
	// newest first (transfer history).
	ListSessionAssignments(ctx context.Context, sessionID string) ([]*types.SupportAssignment, error)

	// CountActiveAssignments returns how many sessions a support user
	// currently carries.
	CountActiveAssignments(ctx context.Context, supportUserID string) (int, error)

	// Rule operations

	// ListActiveRules returns active rules of one kind ordered by
	// priority descending
	// FUNCTIONAL DISCOVERY: Ordering pushed to the store so every evaluation
	// pass sees rules in the same first-match-wins order
	ListActiveRules(ctx context.Context, kind string) ([]*types.RoutingRule, error)

	// SaveRule inserts or replaces a routing rule definition.
	SaveRule(ctx context.Context, rule *types.RoutingRule) error

	// Health and lifecycle

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources.
	Close() error
}
