package interfaces

import (
	"context"

	"livedesk/pkg/types"
)

// TokenVerifier verifies a connection token and yields the subject user id
// ARCHITECTURAL DISCOVERY: Token issuance is an external concern - the
// gateway only consumes "verify token -> subject id"
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// UserDirectory resolves user identity and role membership
// FUNCTIONAL DISCOVERY: The gateway never stores accounts - it looks up
// display names and roles for routing, availability and notifications
type UserDirectory interface {
	// GetUser returns the user record, or ErrUserNotFound.
	GetUser(ctx context.Context, userID string) (*types.User, error)

	// ListByRole returns active users holding any of the given roles.
	ListByRole(ctx context.Context, roles ...string) ([]*types.User, error)
}

// Generator is the opaque text-generation collaborator.
type Generator interface {
	// Generate produces assistant text for a prompt. Implementations may
	// stream through the optional chunk callback before returning the
	// full response.
	Generate(ctx context.Context, prompt string, onChunk func(chunk string)) (string, error)
}

// ScoredTag is one classifier finding over a piece of text.
type ScoredTag struct {
	Tag   string
	Score float64
}

// Classifier maps text to scored tags
// ARCHITECTURAL DISCOVERY: Keyword-list heuristics sit behind this interface
// so they can be swapped for a learned model without touching gateway logic
type Classifier interface {
	Classify(text string) []ScoredTag
}

// Notifier routes an event to one user, a role set, or a session room
// FUNCTIONAL DISCOVERY: Delivery is best-effort live fan-out - zero
// deliveries is success, durable notification is an external concern
type Notifier interface {
	// SendToUser emits to every live connection of the user.
	SendToUser(userID, event string, payload interface{})

	// SendToRoles emits to every live connection whose user holds one of
	// the given roles.
	SendToRoles(roles []string, event string, payload interface{})

	// BroadcastToSession emits to every connection joined to the session
	// room, excluding the connection id in exclude if non-empty.
	BroadcastToSession(sessionID, event string, payload interface{}, excludeConnID string)
}
