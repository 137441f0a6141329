package escalation

import "errors"

var (
	// ErrAlreadyEscalated indicates the session is already a support session.
	ErrAlreadyEscalated = errors.New("session is already escalated to support")

	// ErrSessionClosed indicates the session can no longer be escalated.
	ErrSessionClosed = errors.New("cannot escalate a closed session")
)
