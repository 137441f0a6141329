package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionType = errors.New("session type must be 'support' or 'general'")
	ErrInvalidSenderType  = errors.New("invalid sender type")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidPriority    = errors.New("priority must be low, medium, high or urgent")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrInvalidTitle       = errors.New("session title must be at most 200 characters")
)
