package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSessionType checks if the session type is one of the allowed types.
func IsValidSessionType(sessionType string) bool {
	return sessionType == SessionTypeSupport || sessionType == SessionTypeGeneral
}

// IsValidSenderType checks if the sender type is one of the allowed types.
func IsValidSenderType(senderType string) bool {
	switch senderType {
	case SenderTypeUser, SenderTypeAI, SenderTypeSupport, SenderTypeSystem:
		return true
	default:
		return false
	}
}

// IsValidMessageType checks if the message type is one of the allowed types
// ARCHITECTURAL DISCOVERY: Explicit validation prevents undefined message
// types from entering the routing and persistence layers
func IsValidMessageType(messageType string) bool {
	switch messageType {
	case MessageTypeText, MessageTypeFile, MessageTypeURL, MessageTypeSystem:
		return true
	default:
		return false
	}
}

// IsValidPriority checks if a priority level is one of the allowed levels.
func IsValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Validate ensures the session meets all requirements.
func (s *Session) Validate() error {
	if !IsValidUserID(s.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidSessionType(s.SessionType) {
		return ErrInvalidSessionType
	}
	if len(s.Title) > 200 {
		return ErrInvalidTitle
	}
	return nil
}

// Validate ensures the message meets all requirements
// FUNCTIONAL DISCOVERY: Message type defaulting happens during validation
// to ensure consistent behavior across all send paths
func (m *Message) Validate() error {
	if !IsValidSenderType(m.SenderType) {
		return ErrInvalidSenderType
	}

	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	if !IsValidMessageType(m.MessageType) {
		return ErrInvalidMessageType
	}

	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > 65536 { // 64KB
		return ErrContentTooLarge
	}

	return nil
}
