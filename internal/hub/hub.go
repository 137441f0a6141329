package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"livedesk/internal/config"
	"livedesk/internal/escalation"
	"livedesk/internal/gateway"
	"livedesk/internal/session"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// eventHandler processes one inbound wire event for one connection.
type eventHandler func(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error

// Hub is the gateway orchestrator: it owns the dispatch table from wire
// event names to handlers and coordinates registry, typing, sessions,
// escalation and notification on each event.
// ARCHITECTURAL DISCOVERY: An explicit dispatch table instead of a method
// per transport callback keeps every handler unit-testable without a live
// socket and makes the supported protocol greppable in one place
type Hub struct {
	registry    *gateway.Registry
	typing      *gateway.TypingTracker
	heartbeat   *gateway.HeartbeatMonitor
	sessions    *session.Manager
	dbManager   interfaces.DatabaseManager
	escalations *escalation.Service
	notifier    interfaces.Notifier
	directory   interfaces.UserDirectory
	generator   interfaces.Generator

	maxFileSize    int64
	allowedFormats map[string]bool

	handlers map[string]eventHandler
}

// NewHub wires the orchestrator. generator may be nil (no AI replies).
func NewHub(
	registry *gateway.Registry,
	typing *gateway.TypingTracker,
	heartbeat *gateway.HeartbeatMonitor,
	sessions *session.Manager,
	dbManager interfaces.DatabaseManager,
	escalations *escalation.Service,
	notifier interfaces.Notifier,
	directory interfaces.UserDirectory,
	generator interfaces.Generator,
	cfg *config.GatewayConfig,
) *Hub {
	if cfg == nil {
		cfg = config.DefaultConfig().Gateway
	}

	allowed := make(map[string]bool, len(cfg.AllowedFileFormats))
	for _, format := range cfg.AllowedFileFormats {
		allowed[strings.ToLower(format)] = true
	}

	h := &Hub{
		registry:       registry,
		typing:         typing,
		heartbeat:      heartbeat,
		sessions:       sessions,
		dbManager:      dbManager,
		escalations:    escalations,
		notifier:       notifier,
		directory:      directory,
		generator:      generator,
		maxFileSize:    cfg.MaxFileSize,
		allowedFormats: allowed,
	}

	h.handlers = map[string]eventHandler{
		types.EventJoinSession:    h.handleJoinSession,
		types.EventLeaveSession:   h.handleLeaveSession,
		types.EventSendMessage:    h.handleSendMessage,
		types.EventTypingStart:    h.handleTypingStart,
		types.EventTypingStop:     h.handleTypingStop,
		types.EventUploadFile:     h.handleUploadFile,
		types.EventProcessURL:     h.handleProcessURL,
		types.EventRequestSupport: h.handleRequestSupport,
		types.EventJoinSupport:    h.handleJoinSupport,
		types.EventLeaveSupport:   h.handleLeaveSupport,
		types.EventHeartbeat:      h.handleHeartbeat,
		types.EventPing:           h.handlePing,
		types.EventGetSessionInfo: h.handleGetSessionInfo,
	}

	return h
}

// Dispatch routes one inbound envelope to its handler. Handler failures are
// converted to a scoped error event on the originating connection; they
// never propagate to other connections.
func (h *Hub) Dispatch(ctx context.Context, conn *gateway.Connection, envelope *types.Envelope) {
	handler, known := h.handlers[envelope.Event]
	if !known {
		log.Printf("Ignoring unknown event %q from connection %s", envelope.Event, conn.GetID())
		return
	}

	if err := handler(ctx, conn, envelope.Data); err != nil {
		h.sendError(conn, err)
	}
}

// sendError converts a handler failure into the four-field error frame.
func (h *Hub) sendError(conn *gateway.Connection, err error) {
	event := types.ErrorEvent{
		Code:      types.CodeMessageSendFailed,
		Message:   "Request failed",
		Retryable: true,
		Timestamp: time.Now(),
	}

	var clientErr *clientError
	if errors.As(err, &clientErr) {
		event.Code = clientErr.code
		event.Message = clientErr.message
		event.Retryable = clientErr.retryable
	} else {
		log.Printf("Handler failure on connection %s: %v", conn.GetID(), err)
	}

	if writeErr := conn.WriteEvent(types.EventError, event); writeErr != nil {
		log.Printf("Failed to send error event to %s: %v", conn.GetID(), writeErr)
	}
}

// Disconnect tears down one connection: typing state, room membership,
// registry entry. Safe to call more than once for the same connection.
func (h *Hub) Disconnect(conn *gateway.Connection) {
	userID := conn.GetUserID()

	// Typing cleanup first so watchers see the indicator clear before the
	// user drops out of the room
	for _, sessionID := range h.typing.ClearUser(userID) {
		h.notifier.BroadcastToSession(sessionID, types.EventTypingIndicator, types.TypingIndicator{
			SessionID: sessionID,
			UserID:    userID,
			IsTyping:  false,
		}, conn.GetID())
	}

	if sessionID := conn.GetSessionID(); sessionID != "" {
		h.notifier.BroadcastToSession(sessionID, types.EventUserLeft, types.RoomEvent{
			UserID:    userID,
			SessionID: sessionID,
		}, conn.GetID())
	}

	h.registry.Unregister(conn)
	log.Printf("Connection %s disconnected (user %s)", conn.GetID(), userID)
}

func (h *Hub) validateAccess(ctx context.Context, conn *gateway.Connection, sessionID string) error {
	err := h.sessions.ValidateAccess(ctx, sessionID, conn.GetUserID(), conn.GetRole())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionNotFound):
		return newClientError(types.CodeSessionNotFound, "Session not found", false)
	case errors.Is(err, session.ErrSessionClosed):
		return newClientError(types.CodeSessionNotFound, "Session is closed", false)
	case errors.Is(err, session.ErrUnauthorized), errors.Is(err, session.ErrInvalidRole):
		return newClientError(types.CodeAccessDenied, "Access denied to session", false)
	default:
		return fmt.Errorf("access check failed: %w", err)
	}
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

func (h *Hub) handleJoinSession(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	if err := h.registry.JoinRoom(conn, req.SessionID); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	h.notifier.BroadcastToSession(req.SessionID, types.EventUserJoined, types.RoomEvent{
		UserID:    conn.GetUserID(),
		SessionID: req.SessionID,
	}, conn.GetID())

	return conn.WriteEvent(types.EventSessionJoined, sessionRef{SessionID: req.SessionID})
}

func (h *Hub) handleLeaveSession(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	h.leaveRoom(conn, req.SessionID, types.EventUserLeft)
	return conn.WriteEvent(types.EventSessionLeft, sessionRef{SessionID: req.SessionID})
}

// leaveRoom clears typing, leaves the room and announces the departure.
// Idempotent: leaving a room the connection is not in changes nothing.
func (h *Hub) leaveRoom(conn *gateway.Connection, sessionID, announceEvent string) {
	userID := conn.GetUserID()

	if h.typing.Stop(sessionID, userID) {
		h.notifier.BroadcastToSession(sessionID, types.EventTypingIndicator, types.TypingIndicator{
			SessionID: sessionID,
			UserID:    userID,
			IsTyping:  false,
		}, conn.GetID())
	}

	wasMember := conn.GetSessionID() == sessionID
	h.registry.LeaveRoom(conn, sessionID)

	if wasMember {
		switch announceEvent {
		case types.EventSupportLeft:
			h.notifier.BroadcastToSession(sessionID, announceEvent, types.SupportPresence{
				SessionID:       sessionID,
				SupportUserID:   userID,
				SupportUserName: h.displayName(userID),
			}, conn.GetID())
		default:
			h.notifier.BroadcastToSession(sessionID, announceEvent, types.RoomEvent{
				UserID:    userID,
				SessionID: sessionID,
			}, conn.GetID())
		}
	}
}

type sendMessageRequest struct {
	SessionID   string                 `json:"session_id"`
	Content     string                 `json:"content"`
	MessageType string                 `json:"message_type,omitempty"`
	Metadata    *types.MessageMetadata `json:"metadata,omitempty"`
}

func (h *Hub) handleSendMessage(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeMessageSendFailed, "Invalid message payload", false)
	}

	sess, err := h.sessions.GetSession(ctx, req.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return newClientError(types.CodeSessionNotFound, "Session not found", false)
	} else if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = types.MessageTypeText
	}
	senderType := types.SenderTypeUser
	if conn.GetRole() != types.RoleCustomer {
		senderType = types.SenderTypeSupport
	}

	userID := conn.GetUserID()
	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		SenderType:  senderType,
		SenderID:    &userID,
		Content:     req.Content,
		MessageType: messageType,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now(),
	}
	if err := h.dbManager.StoreMessage(ctx, message); err != nil {
		return newClientError(types.CodeMessageSendFailed, "Failed to send message", true)
	}

	// Persist first, then fan out: receivers never see a message that is
	// not in the timeline
	h.notifier.BroadcastToSession(req.SessionID, types.EventMessageReceived, message, "")

	// Sending a message implies the sender stopped typing
	if h.typing.Stop(req.SessionID, userID) {
		h.notifier.BroadcastToSession(req.SessionID, types.EventTypingIndicator, types.TypingIndicator{
			SessionID: req.SessionID,
			UserID:    userID,
			IsTyping:  false,
		}, conn.GetID())
	}

	if senderType == types.SenderTypeUser {
		if sess.SessionType == types.SessionTypeGeneral && h.generator != nil {
			go h.generateAIReply(sess.ID, req.Content)
		}
		if _, err := h.escalations.MaybeEscalate(ctx, sess); err != nil {
			log.Printf("Escalation check failed for session %s: %v", sess.ID, err)
		}
	}

	return nil
}

func (h *Hub) handleTypingStart(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	return h.handleTyping(conn, data, true)
}

func (h *Hub) handleTypingStop(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	return h.handleTyping(conn, data, false)
}

// handleTyping updates the typing set and re-broadcasts on every call so
// client-side indicator timers refresh. A connection can only mark typing
// in the room it has joined.
func (h *Hub) handleTyping(conn *gateway.Connection, data json.RawMessage, isTyping bool) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return nil
	}
	if conn.GetSessionID() != req.SessionID {
		return nil
	}

	userID := conn.GetUserID()
	if isTyping {
		h.typing.Start(req.SessionID, userID)
	} else {
		h.typing.Stop(req.SessionID, userID)
	}

	h.notifier.BroadcastToSession(req.SessionID, types.EventTypingIndicator, types.TypingIndicator{
		SessionID: req.SessionID,
		UserID:    userID,
		IsTyping:  isTyping,
	}, conn.GetID())
	return nil
}

type uploadFileRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	FileData  string `json:"file_data,omitempty"`
}

func (h *Hub) handleUploadFile(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req uploadFileRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" || req.Filename == "" {
		return newClientError(types.CodeInvalidFileFormat, "Invalid file payload", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	if req.FileSize > h.maxFileSize {
		return newClientError(types.CodeFileTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit", h.maxFileSize), false)
	}
	if !h.allowedFormats[strings.ToLower(strings.TrimPrefix(req.FileType, "."))] {
		return newClientError(types.CodeInvalidFileFormat,
			fmt.Sprintf("File format %q is not supported", req.FileType), false)
	}

	userID := conn.GetUserID()
	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		SenderType:  types.SenderTypeUser,
		SenderID:    &userID,
		Content:     req.Filename,
		MessageType: types.MessageTypeFile,
		Metadata: &types.MessageMetadata{File: &types.FileInfo{
			Filename: req.Filename,
			FileType: req.FileType,
			FileSize: req.FileSize,
		}},
		CreatedAt: time.Now(),
	}
	if err := h.dbManager.StoreMessage(ctx, message); err != nil {
		return newClientError(types.CodeMessageSendFailed, "Failed to record file upload", true)
	}

	h.notifier.BroadcastToSession(req.SessionID, types.EventMessageReceived, message, "")
	h.notifier.BroadcastToSession(req.SessionID, types.EventFileStatus, types.FileStatus{
		SessionID: req.SessionID,
		Filename:  req.Filename,
		Status:    "processing",
	}, "")

	return conn.WriteEvent(types.EventFileUploadAck, types.FileStatus{
		SessionID: req.SessionID,
		Filename:  req.Filename,
		Status:    "received",
	})
}

type processURLRequest struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (h *Hub) handleProcessURL(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req processURLRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeInvalidURL, "Invalid URL payload", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return newClientError(types.CodeInvalidURL, "Only http and https URLs are supported", false)
	}

	userID := conn.GetUserID()
	message := &types.Message{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		SenderType:  types.SenderTypeUser,
		SenderID:    &userID,
		Content:     req.URL,
		MessageType: types.MessageTypeURL,
		Metadata:    &types.MessageMetadata{URL: &types.URLInfo{URL: req.URL}},
		CreatedAt:   time.Now(),
	}
	if err := h.dbManager.StoreMessage(ctx, message); err != nil {
		return newClientError(types.CodeMessageSendFailed, "Failed to record URL", true)
	}

	h.notifier.BroadcastToSession(req.SessionID, types.EventMessageReceived, message, "")
	h.notifier.BroadcastToSession(req.SessionID, types.EventURLStatus, types.URLStatus{
		SessionID: req.SessionID,
		URL:       req.URL,
		Status:    "processing",
	}, "")

	return conn.WriteEvent(types.EventURLProcessAck, types.URLStatus{
		SessionID: req.SessionID,
		URL:       req.URL,
		Status:    "received",
	})
}

type requestSupportRequest struct {
	SessionID string `json:"session_id"`
	Notes     string `json:"notes,omitempty"`
}

func (h *Hub) handleRequestSupport(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req requestSupportRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	_, err := h.escalations.RequestSupport(ctx, req.SessionID, conn.GetUserID(), req.Notes)
	if err != nil && !errors.Is(err, escalation.ErrAlreadyEscalated) {
		return fmt.Errorf("support request failed: %w", err)
	}

	h.notifier.SendToRoles(types.SupportRoles, types.EventSupportRequested, map[string]interface{}{
		"session_id": req.SessionID,
		"user_id":    conn.GetUserID(),
		"notes":      req.Notes,
		"timestamp":  time.Now(),
	})

	return conn.WriteEvent(types.EventSupportRequestAck, sessionRef{SessionID: req.SessionID})
}

func (h *Hub) handleJoinSupport(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	switch conn.GetRole() {
	case types.RoleSupport, types.RoleManager, types.RoleAdmin:
	default:
		return newClientError(types.CodeAccessDenied, "Support role required", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	if err := h.registry.JoinRoom(conn, req.SessionID); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	h.notifier.BroadcastToSession(req.SessionID, types.EventSupportJoined, types.SupportPresence{
		SessionID:       req.SessionID,
		SupportUserID:   conn.GetUserID(),
		SupportUserName: h.displayName(conn.GetUserID()),
	}, conn.GetID())

	return conn.WriteEvent(types.EventSessionJoined, sessionRef{SessionID: req.SessionID})
}

func (h *Hub) handleLeaveSupport(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	h.leaveRoom(conn, req.SessionID, types.EventSupportLeft)
	return conn.WriteEvent(types.EventSessionLeft, sessionRef{SessionID: req.SessionID})
}

type clientClock struct {
	Timestamp string `json:"timestamp"`
}

func (h *Hub) handleHeartbeat(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req clientClock
	_ = json.Unmarshal(data, &req)

	ack := h.heartbeat.Ack(conn, req.Timestamp)
	return conn.WriteEvent(types.EventHeartbeatAck, ack)
}

func (h *Hub) handlePing(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req clientClock
	_ = json.Unmarshal(data, &req)

	conn.Touch()
	return conn.WriteEvent(types.EventPong, types.Pong{
		Timestamp:       time.Now(),
		ClientTimestamp: req.Timestamp,
	})
}

func (h *Hub) handleGetSessionInfo(ctx context.Context, conn *gateway.Connection, data json.RawMessage) error {
	var req sessionRef
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		return newClientError(types.CodeSessionNotFound, "Missing session_id", false)
	}

	if err := h.validateAccess(ctx, conn, req.SessionID); err != nil {
		return err
	}

	sess, err := h.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	return conn.WriteEvent(types.EventSessionInfo, types.SessionInfo{
		Session:          sess,
		ParticipantCount: h.registry.GetSessionUserCount(req.SessionID),
		TypingUserCount:  h.typing.Count(req.SessionID),
		Timestamp:        time.Now(),
	})
}

// displayName resolves a user's name for presence events, falling back to
// the bare ID when the directory cannot answer.
func (h *Hub) displayName(userID string) string {
	user, err := h.directory.GetUser(context.Background(), userID)
	if err != nil || user.Name == "" {
		return userID
	}
	return user.Name
}
