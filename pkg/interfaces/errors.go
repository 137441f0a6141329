package interfaces

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
)
