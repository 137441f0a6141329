package types

import (
	"time"
)

// Session type constants
// ARCHITECTURAL DISCOVERY: Session type distinguishes support conversations
// from general assistant conversations while sharing one message timeline
const (
	SessionTypeSupport = "support"
	SessionTypeGeneral = "general"
)

// Session status constants - closed is terminal
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Message sender type constants
const (
	SenderTypeUser    = "user"
	SenderTypeAI      = "ai"
	SenderTypeSupport = "support"
	SenderTypeSystem  = "system"
)

// Message type constants
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeURL    = "url"
	MessageTypeSystem = "system"
)

// Assignment type constants
const (
	AssignmentTypeManual    = "manual"
	AssignmentTypeAuto      = "auto"
	AssignmentTypeEscalated = "escalated"
)

// Assignment status constants
const (
	AssignmentStatusActive      = "active"
	AssignmentStatusCompleted   = "completed"
	AssignmentStatusTransferred = "transferred"
)

// Priority levels used by escalation analysis and routing rules
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Urgency levels attached to handoff context
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Role constants
// FUNCTIONAL DISCOVERY: Role set mirrors the support organization - customers
// own sessions, support/manager/admin may be assigned to them
const (
	RoleCustomer = "customer"
	RoleSupport  = "support"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// SupportRoles are the roles permitted to join sessions as support staff.
var SupportRoles = []string{RoleSupport, RoleManager, RoleAdmin}

// ManagerRoles are the roles escalations are routed to.
var ManagerRoles = []string{RoleManager, RoleAdmin}

// Session represents one customer conversation
// FUNCTIONAL DISCOVERY: Immutable after creation except status, metadata and
// the timestamps - at most one active session exists per (userID, sessionType)
type Session struct {
	ID          string           `json:"id" db:"id"`
	UserID      string           `json:"user_id" db:"user_id"`
	SessionType string           `json:"session_type" db:"session_type"`
	Status      string           `json:"status" db:"status"`
	Title       string           `json:"title" db:"title"`
	Priority    string           `json:"priority" db:"priority"`
	Metadata    *SessionMetadata `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

// SessionMetadata is the closed set of metadata a session can carry
// ARCHITECTURAL DISCOVERY: Typed variants instead of an open map so every
// consumer of session metadata is checked at compile time
type SessionMetadata struct {
	Escalation       *EscalationRecord `json:"escalation,omitempty"`
	EscalationLevel  int               `json:"escalation_level,omitempty"`
	RuleApplications map[string]int    `json:"rule_applications,omitempty"` // ruleID -> times applied
	Tags             []string          `json:"tags,omitempty"`
}

// EscalationRecord documents how a session became a support session
type EscalationRecord struct {
	Reason      string    `json:"reason"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category,omitempty"`
	Confidence  float64   `json:"confidence"`
	EscalatedBy string    `json:"escalated_by"`
	EscalatedAt time.Time `json:"escalated_at"`
	Notes       string    `json:"notes,omitempty"`
	FromType    string    `json:"from_type,omitempty"` // session type before escalation
}

// Message represents one entry in a session's append-only timeline
// FUNCTIONAL DISCOVERY: Edits and deletes are metadata flags, never physical
// removal, so the conversation history stays auditable
type Message struct {
	ID          string           `json:"id" db:"id"`
	SessionID   string           `json:"session_id" db:"session_id"`
	SenderType  string           `json:"sender_type" db:"sender_type"`
	SenderID    *string          `json:"sender_id,omitempty" db:"sender_id"`
	Content     string           `json:"content" db:"content"`
	MessageType string           `json:"message_type" db:"message_type"`
	Metadata    *MessageMetadata `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// MessageMetadata is the closed set of metadata a message can carry
type MessageMetadata struct {
	Confidence *float64          `json:"confidence,omitempty"` // AI answer confidence, 0..1
	IsEdited   bool              `json:"is_edited,omitempty"`
	IsDeleted  bool              `json:"is_deleted,omitempty"`
	Note       *NoteMetadata     `json:"note,omitempty"`
	Transfer   *TransferRecord   `json:"transfer,omitempty"`
	Escalation *EscalationRecord `json:"escalation,omitempty"`
	File       *FileInfo         `json:"file,omitempty"`
	URL        *URLInfo          `json:"url,omitempty"`
}

// NoteMetadata marks a system message as a handoff note
// FUNCTIONAL DISCOVERY: Private notes render as "[Private Note]" in the open
// timeline while the real content lives in metadata, filterable by privacy
type NoteMetadata struct {
	IsPrivate  bool     `json:"is_private"`
	Content    string   `json:"content"`
	AuthorName string   `json:"author_name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// TransferRecord documents an agent-to-agent handoff on the system message
type TransferRecord struct {
	FromUserID     string `json:"from_user_id"`
	ToUserID       string `json:"to_user_id"`
	Reason         string `json:"reason"`
	ContextSummary string `json:"context_summary,omitempty"`
	UrgencyLevel   string `json:"urgency_level,omitempty"`
}

// FileInfo records an uploaded file reference on a FILE message
type FileInfo struct {
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// URLInfo records a processed URL reference on a URL message
type URLInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// SupportAssignment records responsibility for a session
// FUNCTIONAL DISCOVERY: A session accumulates assignments over time as
// transfer history - only the latest active one is current
type SupportAssignment struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	SupportUserID  string     `json:"support_user_id" db:"support_user_id"`
	AssignedBy     *string    `json:"assigned_by,omitempty" db:"assigned_by"`
	AssignmentType string     `json:"assignment_type" db:"assignment_type"`
	Status         string     `json:"status" db:"status"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	AssignedAt     time.Time  `json:"assigned_at" db:"assigned_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// User is the directory view of an account consumed by the gateway
// ARCHITECTURAL DISCOVERY: Identity management is external - the gateway only
// needs id, display name and role membership for routing and notifications
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	IsActive bool     `json:"is_active"`
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RoutingRule kinds
const (
	RuleKindAssignment = "assignment"
	RuleKindEscalation = "escalation"
)

// RoutingRule is a prioritized condition -> action pair
// FUNCTIONAL DISCOVERY: Conditions are stored as a raw document and compiled
// once at load time into a predicate tree - see the rules package
type RoutingRule struct {
	ID              string                 `json:"id" db:"id"`
	Name            string                 `json:"name" db:"name"`
	Kind            string                 `json:"kind" db:"kind"`
	IsActive        bool                   `json:"is_active" db:"is_active"`
	Priority        int                    `json:"priority" db:"priority"`
	Conditions      map[string]interface{} `json:"conditions" db:"conditions"`
	SkipIfAssigned  bool                   `json:"skip_if_assigned" db:"skip_if_assigned"`
	MaxApplications int                    `json:"max_applications" db:"max_applications"`
	AssignToID      string                 `json:"assign_to_id,omitempty" db:"assign_to_id"`
	Actions         *RuleActions           `json:"actions,omitempty" db:"actions"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// RuleActions is the unordered bag of effects an escalation rule applies
// FUNCTIONAL DISCOVERY: All effects of a firing rule apply together or not
// at all - partial application would leave the session inconsistent
type RuleActions struct {
	AssignToID              string `json:"assign_to_id,omitempty"`
	SetPriority             string `json:"set_priority,omitempty"`
	AddNote                 string `json:"add_note,omitempty"`
	NotifySupervisors       bool   `json:"notify_supervisors,omitempty"`
	IncreaseEscalationLevel bool   `json:"increase_escalation_level,omitempty"`
}

// EscalationAnalysis is the analyzer verdict over recent messages
type EscalationAnalysis struct {
	ShouldEscalate bool    `json:"should_escalate"`
	Reason         string  `json:"reason"`
	Priority       string  `json:"priority"`
	Category       string  `json:"category,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// HandoffContext is everything a receiving agent needs to continue a session
type HandoffContext struct {
	SessionID           string               `json:"session_id"`
	PreviousMessages    []*Message           `json:"previous_messages"` // chronological
	ContextSummary      string               `json:"context_summary"`
	CustomerInfo        CustomerInfo         `json:"customer_info"`
	PreviousAssignments []*SupportAssignment `json:"previous_assignments"`
	HandoffReason       string               `json:"handoff_reason"`
	UrgencyLevel        string               `json:"urgency_level"`
}

// CustomerInfo is the customer identity slice of a handoff context
type CustomerInfo struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

// HandoffNote is the external view of a note stored as a system message
type HandoffNote struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	IsPrivate  bool      `json:"is_private"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
