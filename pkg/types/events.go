package types

import (
	"encoding/json"
	"time"
)

// Inbound event names
// ARCHITECTURAL DISCOVERY: Event names defined exactly as the clients send
// them so the dispatch table can be checked against the wire protocol
const (
	EventJoinSession    = "join-session"
	EventLeaveSession   = "leave-session"
	EventSendMessage    = "send-message"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
	EventUploadFile     = "upload-file"
	EventProcessURL     = "process-url"
	EventRequestSupport = "request-support"
	EventJoinSupport    = "join-support"
	EventLeaveSupport   = "leave-support"
	EventHeartbeat      = "heartbeat"
	EventPing           = "ping"
	EventGetSessionInfo = "get-session-info"
)

// Outbound event names
const (
	EventConnectionEstablished = "connection-established"
	EventSessionJoined         = "session-joined"
	EventSessionLeft           = "session-left"
	EventUserJoined            = "user-joined"
	EventUserLeft              = "user-left"
	EventMessageReceived       = "message-received"
	EventTypingIndicator       = "typing-indicator"
	EventFileUploadAck         = "file-upload-acknowledged"
	EventFileStatus            = "file-processing-status"
	EventURLProcessAck         = "url-process-acknowledged"
	EventURLStatus             = "url-processing-status"
	EventSupportRequested      = "support-requested"
	EventSupportRequestAck     = "support-request-acknowledged"
	EventSupportJoined         = "support-joined"
	EventSupportLeft           = "support-left"
	EventSupportAssigned       = "support-assigned"
	EventSupportTransferred    = "support-transferred"
	EventSupportEscalated      = "support-escalated"
	EventEscalationAlert       = "escalation-alert"
	EventSessionUpdated        = "session-updated"
	EventSessionInfo           = "session-info"
	EventNotification          = "notification"
	EventRoleNotification      = "role-notification"
	EventHeartbeatRequest      = "heartbeat-request"
	EventHeartbeatAck          = "heartbeat-ack"
	EventPong                  = "pong"
	EventError                 = "error"
	EventAIResponseStart       = "ai-response-start"
	EventAIResponseChunk       = "ai-response-chunk"
	EventAIResponseComplete    = "ai-response-complete"
)

// Error codes surfaced to clients
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidFileFormat = "INVALID_FILE_FORMAT"
	CodeInvalidURL        = "INVALID_URL"
	CodeMessageSendFailed = "MESSAGE_SEND_FAILED"
)

// Envelope is one wire frame in either direction
// FUNCTIONAL DISCOVERY: Data kept raw on inbound frames so each handler
// unmarshals only its own payload shape
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame pairs an event name with an already-typed payload.
type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorEvent is the only shape the error event carries
// FUNCTIONAL DISCOVERY: All four fields are mandatory on every emission -
// clients key retry behavior off Code and Retryable
type ErrorEvent struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionEstablished is emitted once after successful authentication.
type ConnectionEstablished struct {
	UserID    string    `json:"user_id"`
	SocketID  string    `json:"socket_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingIndicator is broadcast to room members other than the typist.
type TypingIndicator struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	IsTyping  bool   `json:"is_typing"`
}

// HeartbeatAck echoes both clocks so the client can compute round trip.
type HeartbeatAck struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientTimestamp string    `json:"client_timestamp"`
}

// Pong is the response to an on-demand ping probe.
type Pong struct {
	Timestamp       time.Time `json:"timestamp"`
	ClientTimestamp string    `json:"client_timestamp"`
}

// RoomEvent announces a user arriving at or leaving a session room.
type RoomEvent struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SupportPresence announces support staff joining or leaving a session.
type SupportPresence struct {
	SessionID       string `json:"session_id"`
	SupportUserID   string `json:"support_user_id"`
	SupportUserName string `json:"support_user_name"`
}

// SupportTransfer announces an agent-to-agent handoff to the room.
type SupportTransfer struct {
	SessionID         string `json:"session_id"`
	FromSupportUserID string `json:"from_support_user_id"`
	ToSupportUserID   string `json:"to_support_user_id"`
	TransferredBy     string `json:"transferred_by"`
	Notes             string `json:"notes,omitempty"`
}

// SupportEscalation announces an escalation to the room and to managers.
type SupportEscalation struct {
	SessionID   string `json:"session_id"`
	EscalatedBy string `json:"escalated_by"`
	EscalatedTo string `json:"escalated_to"`
	Notes       string `json:"notes,omitempty"`
}

// FileStatus reports file processing progress to the room.
type FileStatus struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// URLStatus reports URL processing progress to the room.
type URLStatus struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Title     string `json:"title,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionInfo answers a get-session-info request.
type SessionInfo struct {
	Session          *Session  `json:"session"`
	ParticipantCount int       `json:"participant_count"`
	TypingUserCount  int       `json:"typing_user_count"`
	Timestamp        time.Time `json:"timestamp"`
}
