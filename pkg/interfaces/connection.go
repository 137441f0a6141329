package interfaces

// Connection represents one live client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between transport infrastructure and business logic
type Connection interface {
	// WriteEvent sends a named event with a JSON payload to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteEvent(event string, payload interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetID returns the server-assigned connection id
	GetID() string

	// GetUserID returns the authenticated user's id
	GetUserID() string

	// GetRole returns the user's primary role for routing decisions
	GetRole() string

	// GetSessionID returns the session room this connection is currently in,
	// or empty if it has not joined one
	GetSessionID() string

	// SetSessionID records the current session room
	SetSessionID(sessionID string)

	// IsAuthenticated returns true once credentials have been bound
	IsAuthenticated() bool

	// SetCredentials binds authenticated identity to the connection
	SetCredentials(userID, role string) error
}
