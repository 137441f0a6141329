package session

import "errors"

var (
	ErrInvalidUserID        = errors.New("invalid user ID")
	ErrInvalidSessionType   = errors.New("invalid session type")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionClosed        = errors.New("session is closed")
	ErrSessionAlreadyClosed = errors.New("session is already closed")
	ErrUnauthorized         = errors.New("user not authorized for session")
	ErrInvalidRole          = errors.New("invalid role")
)
