package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"livedesk/internal/escalation"
	"livedesk/internal/gateway"
	"livedesk/internal/handoff"
	"livedesk/internal/session"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Registry interface to avoid tight coupling to gateway.Registry implementation
type Registry interface {
	GetRoomConnections(sessionID string) []*gateway.Connection
	GetSessionUserCount(sessionID string) int
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between
// external clients and internal components - no business logic, only HTTP
// handling and JSON serialization
type Server struct {
	sessions    *session.Manager
	dbManager   interfaces.DatabaseManager
	registry    Registry
	escalations *escalation.Service
	handoffs    *handoff.Service
	notifier    interfaces.Notifier
	router      *http.ServeMux
}

func NewServer(
	sessions *session.Manager,
	dbManager interfaces.DatabaseManager,
	registry Registry,
	escalations *escalation.Service,
	handoffs *handoff.Service,
	notifier interfaces.Notifier,
) *Server {
	s := &Server{
		sessions:    sessions,
		dbManager:   dbManager,
		registry:    registry,
		escalations: escalations,
		handoffs:    handoffs,
		notifier:    notifier,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/api/notify", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotify))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSessions serves the collection endpoints
// (POST /api/sessions, GET /api/sessions)
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionByID dispatches /api/sessions/{id} and its subresources:
// messages, assignments, context, handoff, escalate, escalations, notes,
// history
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if path == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	segments := strings.Split(path, "/")
	sessionID := segments[0]
	if sessionID == "" {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getSession(w, r, sessionID)
		case http.MethodDelete:
			s.closeSession(w, r, sessionID)
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch segments[1] {
	case "messages":
		s.requireMethod(w, r, http.MethodGet, func() { s.listMessages(w, r, sessionID) })
	case "assignments":
		s.requireMethod(w, r, http.MethodGet, func() { s.listAssignments(w, r, sessionID) })
	case "context":
		s.requireMethod(w, r, http.MethodGet, func() { s.getHandoffContext(w, r, sessionID) })
	case "handoff":
		s.requireMethod(w, r, http.MethodPost, func() { s.executeHandoff(w, r, sessionID) })
	case "escalate":
		s.requireMethod(w, r, http.MethodPost, func() { s.executeEscalation(w, r, sessionID) })
	case "escalations":
		s.requireMethod(w, r, http.MethodGet, func() { s.listEscalations(w, r, sessionID) })
	case "notes":
		s.handleNotes(w, r, sessionID)
	case "history":
		s.requireMethod(w, r, http.MethodGet, func() { s.getHandoffHistory(w, r, sessionID) })
	default:
		s.sendError(w, "Unknown resource", http.StatusNotFound)
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, handler func()) {
	if r.Method != method {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler()
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
	Title       string `json:"title,omitempty"`
}

type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
	Created bool           `json:"created"`
}

type SessionResponse struct {
	Session          *types.Session `json:"session"`
	ParticipantCount int            `json:"participant_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithParticipants `json:"sessions"`
}

type SessionWithParticipants struct {
	*types.Session
	ParticipantCount int `json:"participant_count"`
}

type MessagesResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []*types.Message `json:"messages"`
}

type AssignmentsResponse struct {
	SessionID   string                     `json:"session_id"`
	Assignments []*types.SupportAssignment `json:"assignments"`
}

type HandoffRequest struct {
	FromUserID    string `json:"from_user_id"`
	ToUserID      string `json:"to_user_id"`
	Reason        string `json:"reason"`
	PrivateNotes  string `json:"private_notes,omitempty"`
	TransferredBy string `json:"transferred_by,omitempty"`
}

type EscalateRequest struct {
	EscalatedBy  string `json:"escalated_by"`
	Reason       string `json:"reason"`
	Urgency      string `json:"urgency,omitempty"`
	PrivateNotes string `json:"private_notes,omitempty"`
}

type NoteRequest struct {
	AuthorID  string   `json:"author_id"`
	Content   string   `json:"content"`
	IsPrivate bool     `json:"is_private,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type NotesResponse struct {
	SessionID string               `json:"session_id"`
	Notes     []*types.HandoffNote `json:"notes"`
}

type EscalationsResponse struct {
	SessionID   string                    `json:"session_id"`
	Escalations []*types.EscalationRecord `json:"escalations"`
}

type StatsResponse struct {
	Timestamp   time.Time              `json:"timestamp"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions"`
	Escalations map[string]interface{} `json:"escalations"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type NotifyRequest struct {
	UserID  string      `json:"user_id,omitempty"`
	Roles   []string    `json:"roles,omitempty"`
	Payload interface{} `json:"payload"`
}

type NotifyResponse struct {
	Dispatched bool      `json:"dispatched"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions - resolve or create the user's active session. Returns
// 201 when a session was created, 200 when an active one was reused.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		s.sendError(w, "User ID is required", http.StatusBadRequest)
		return
	}
	if req.SessionType == "" {
		req.SessionType = types.SessionTypeGeneral
	}

	sess, created, err := s.sessions.GetOrCreateSession(r.Context(), req.UserID, req.SessionType, req.Title)
	if err != nil {
		if errors.Is(err, session.ErrInvalidUserID) || errors.Is(err, session.ErrInvalidSessionType) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
		} else {
			s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		}
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(CreateSessionResponse{Session: sess, Created: created})
}

// GET /api/sessions/{id} - session details with live participant count
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err, "Failed to get session")
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:          sess,
		ParticipantCount: s.registry.GetSessionUserCount(sessionID),
	})
}

// DELETE /api/sessions/{id} - close the session. Room members are told
// before the close is persisted so their clients can stop sending.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	for _, conn := range s.registry.GetRoomConnections(sessionID) {
		err := conn.WriteEvent(types.EventSessionUpdated, map[string]interface{}{
			"session_id": sessionID,
			"type":       "session-closed",
		})
		if err != nil {
			log.Printf("Failed to announce close of session %s to %s: %v", sessionID, conn.GetID(), err)
		}
	}

	if err := s.sessions.CloseSession(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, interfaces.ErrSessionNotFound):
			s.sendError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrSessionAlreadyClosed):
			s.sendError(w, "Session already closed", http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to close session", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Session closed successfully"})
}

// GET /api/sessions - list active sessions with live participant counts
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListActiveSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	withParticipants := make([]SessionWithParticipants, len(sessions))
	for i, sess := range sessions {
		withParticipants[i] = SessionWithParticipants{
			Session:          sess,
			ParticipantCount: s.registry.GetSessionUserCount(sess.ID),
		}
	}

	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: withParticipants})
}

// GET /api/sessions/{id}/messages?limit=N - timeline, newest last. A limit
// returns only the most recent N messages.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err, "Failed to get session")
		return
	}

	var messages []*types.Message
	var err error
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, parseErr := strconv.Atoi(raw)
		if parseErr != nil || limit <= 0 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		messages, err = s.dbManager.GetRecentMessages(r.Context(), sessionID, limit)
	} else {
		messages, err = s.dbManager.GetSessionHistory(r.Context(), sessionID)
	}
	if err != nil {
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(MessagesResponse{SessionID: sessionID, Messages: messages})
}

// GET /api/sessions/{id}/assignments - full assignment history
func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err, "Failed to get session")
		return
	}

	assignments, err := s.dbManager.ListSessionAssignments(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, "Failed to load assignments", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(AssignmentsResponse{SessionID: sessionID, Assignments: assignments})
}

// GET /api/sessions/{id}/context - handoff briefing for the receiving agent
func (s *Server) getHandoffContext(w http.ResponseWriter, r *http.Request, sessionID string) {
	handoffContext, err := s.handoffs.BuildContext(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err, "Failed to build handoff context")
		return
	}

	json.NewEncoder(w).Encode(handoffContext)
}

// POST /api/sessions/{id}/handoff - transfer the session between agents
func (s *Server) executeHandoff(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		s.sendError(w, "from_user_id and to_user_id are required", http.StatusBadRequest)
		return
	}

	var transferredBy *string
	if req.TransferredBy != "" {
		transferredBy = &req.TransferredBy
	}

	handoffContext, err := s.handoffs.ExecuteHandoff(r.Context(), sessionID,
		req.FromUserID, req.ToUserID, req.Reason, req.PrivateNotes, transferredBy)
	if err != nil {
		switch {
		case errors.Is(err, handoff.ErrSupportUserNotFound):
			s.sendError(w, "Support user not found", http.StatusBadRequest)
		default:
			s.sendSessionError(w, err, "Failed to execute handoff")
		}
		return
	}

	json.NewEncoder(w).Encode(handoffContext)
}

// POST /api/sessions/{id}/escalate - escalate the session to a manager
func (s *Server) executeEscalation(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.EscalatedBy == "" {
		s.sendError(w, "escalated_by is required", http.StatusBadRequest)
		return
	}

	handoffContext, err := s.handoffs.ExecuteEscalation(r.Context(), sessionID,
		req.EscalatedBy, req.Reason, req.Urgency, req.PrivateNotes)
	if err != nil {
		s.sendSessionError(w, err, "Failed to escalate session")
		return
	}

	json.NewEncoder(w).Encode(handoffContext)
}

// GET /api/sessions/{id}/escalations - escalation records of the session
func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessions.GetSession(r.Context(), sessionID); err != nil {
		s.sendSessionError(w, err, "Failed to get session")
		return
	}

	records, err := s.escalations.History(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, "Failed to load escalations", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(EscalationsResponse{SessionID: sessionID, Escalations: records})
}

// handleNotes serves POST and GET /api/sessions/{id}/notes. Private notes
// are only included when ?include_private=true.
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodPost:
		var req NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.AuthorID == "" || req.Content == "" {
			s.sendError(w, "author_id and content are required", http.StatusBadRequest)
			return
		}

		note, err := s.handoffs.AddNote(r.Context(), sessionID, req.AuthorID, req.Content, req.IsPrivate, req.Tags)
		if err != nil {
			s.sendSessionError(w, err, "Failed to add note")
			return
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(note)
	case http.MethodGet:
		includePrivate := r.URL.Query().Get("include_private") == "true"
		notes, err := s.handoffs.Notes(r.Context(), sessionID, includePrivate)
		if err != nil {
			s.sendSessionError(w, err, "Failed to load notes")
			return
		}

		json.NewEncoder(w).Encode(NotesResponse{SessionID: sessionID, Notes: notes})
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/sessions/{id}/history - transfers, escalations and notes together
func (s *Server) getHandoffHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	history, err := s.handoffs.History(r.Context(), sessionID)
	if err != nil {
		s.sendSessionError(w, err, "Failed to load handoff history")
		return
	}

	json.NewEncoder(w).Encode(history)
}

// GET /api/stats - connection, session and escalation counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	escalationStats, err := s.escalations.Statistics(r.Context())
	if err != nil {
		log.Printf("Failed to compute escalation statistics: %v", err)
		escalationStats = map[string]interface{}{}
	}

	json.NewEncoder(w).Encode(StatsResponse{
		Timestamp:   time.Now(),
		Connections: s.registry.GetStats(),
		Sessions:    s.sessions.GetStats(),
		Escalations: escalationStats,
	})
}

// POST /api/notify - dashboard push to a user or a role set
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" && len(req.Roles) == 0 {
		s.sendError(w, "user_id or roles is required", http.StatusBadRequest)
		return
	}

	// Delivery is fire-and-forget live fan-out, so accepted means dispatched
	if req.UserID != "" {
		s.notifier.SendToUser(req.UserID, types.EventNotification, req.Payload)
	}
	if len(req.Roles) > 0 {
		s.notifier.SendToRoles(req.Roles, types.EventRoleNotification, req.Payload)
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(NotifyResponse{Dispatched: true, Timestamp: time.Now()})
}

// GET /health - component health with database connectivity probe
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	})
}

// sendSessionError maps the session sentinel errors onto HTTP statuses.
func (s *Server) sendSessionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionClosed) || errors.Is(err, session.ErrSessionAlreadyClosed):
		s.sendError(w, "Session is closed", http.StatusBadRequest)
	default:
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables browser clients during development. Origins would
// be restricted behind a gateway in production deployments.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
