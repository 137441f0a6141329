package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livedesk/internal/assignment"
	"livedesk/internal/auth"
	"livedesk/internal/database"
	"livedesk/internal/escalation"
	"livedesk/internal/gateway"
	"livedesk/internal/handoff"
	"livedesk/internal/notify"
	"livedesk/internal/session"
	"livedesk/pkg/types"
)

type apiEnv struct {
	server      *Server
	store       *database.MemoryStore
	sessions    *session.Manager
	assignments *assignment.Service
	escalations *escalation.Service
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := database.NewMemoryStore()
	registry := gateway.NewRegistry()
	sessions := session.NewManager(store)
	directory := auth.NewDirectoryFromUsers(
		&types.User{ID: "customer-1", Name: "Cora", Email: "cora@example.com", Roles: []string{types.RoleCustomer}, IsActive: true},
		&types.User{ID: "agent-a", Name: "Agent A", Roles: []string{types.RoleSupport}, IsActive: true},
		&types.User{ID: "agent-b", Name: "Agent B", Roles: []string{types.RoleSupport}, IsActive: true},
		&types.User{ID: "mgr-1", Name: "Manager One", Roles: []string{types.RoleManager}, IsActive: true},
	)
	notifier := notify.NewDispatcher(registry, directory, nil)
	assignments := assignment.NewService(store, directory, notifier, nil)
	escalations := escalation.NewService(store, sessions, assignments, notifier)
	handoffs := handoff.NewService(store, sessions, assignments, directory, notifier)

	return &apiEnv{
		server:      NewServer(sessions, store, registry, escalations, handoffs, notifier),
		store:       store,
		sessions:    sessions,
		assignments: assignments,
		escalations: escalations,
	}
}

func (env *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func (env *apiEnv) seedSession(t *testing.T, userID, sessionType string) *types.Session {
	t.Helper()
	sess, _, err := env.sessions.GetOrCreateSession(context.Background(), userID, sessionType, "")
	if err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
	return sess
}

func TestCreateSession(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, "POST", "/api/sessions", CreateSessionRequest{UserID: "customer-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var created CreateSessionResponse
	decode(t, w, &created)
	if !created.Created || created.Session == nil || created.Session.UserID != "customer-1" {
		t.Fatalf("Unexpected response: %+v", created)
	}
	if created.Session.SessionType != types.SessionTypeGeneral {
		t.Errorf("Default session type = %q, want general", created.Session.SessionType)
	}

	// A second POST reuses the active session
	w = env.do(t, "POST", "/api/sessions", CreateSessionRequest{UserID: "customer-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d on reuse, got %d", http.StatusOK, w.Code)
	}
	var reused CreateSessionResponse
	decode(t, w, &reused)
	if reused.Created || reused.Session.ID != created.Session.ID {
		t.Errorf("Expected the same session back, got %+v", reused)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader([]byte(`not json`)))
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Invalid JSON: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = env.do(t, "POST", "/api/sessions", CreateSessionRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Missing user_id: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	var errResp ErrorResponse
	decode(t, w, &errResp)
	if errResp.Code != http.StatusBadRequest || errResp.Message == "" {
		t.Errorf("Malformed error body: %+v", errResp)
	}
}

func TestGetSession(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	w := env.do(t, "GET", "/api/sessions/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp SessionResponse
	decode(t, w, &resp)
	if resp.Session.ID != sess.ID || resp.ParticipantCount != 0 {
		t.Errorf("Unexpected response: %+v", resp)
	}

	w = env.do(t, "GET", "/api/sessions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Missing session: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := newAPIEnv(t)
	env.seedSession(t, "customer-1", types.SessionTypeGeneral)
	env.seedSession(t, "customer-1", types.SessionTypeSupport)

	w := env.do(t, "GET", "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp ListSessionsResponse
	decode(t, w, &resp)
	if len(resp.Sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(resp.Sessions))
	}
}

func TestCloseSession(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	w := env.do(t, "DELETE", "/api/sessions/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = env.do(t, "DELETE", "/api/sessions/"+sess.ID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Repeat close: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	w = env.do(t, "DELETE", "/api/sessions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Missing session: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestListMessages(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	sender := "customer-1"
	for i, content := range []string{"first", "second", "third"} {
		message := &types.Message{
			ID:          content,
			SessionID:   sess.ID,
			SenderType:  types.SenderTypeUser,
			SenderID:    &sender,
			Content:     content,
			MessageType: types.MessageTypeText,
			CreatedAt:   time.Unix(int64(1700000000+i), 0),
		}
		if err := env.store.StoreMessage(context.Background(), message); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}

	w := env.do(t, "GET", "/api/sessions/"+sess.ID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp MessagesResponse
	decode(t, w, &resp)
	if len(resp.Messages) != 3 || resp.Messages[0].Content != "first" {
		t.Errorf("Unexpected timeline: %+v", resp.Messages)
	}

	w = env.do(t, "GET", "/api/sessions/"+sess.ID+"/messages?limit=2", nil)
	decode(t, w, &resp)
	if len(resp.Messages) != 2 {
		t.Errorf("Expected 2 messages with limit, got %d", len(resp.Messages))
	}

	w = env.do(t, "GET", "/api/sessions/"+sess.ID+"/messages?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Bad limit: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestNotesEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeSupport)

	w := env.do(t, "POST", "/api/sessions/"+sess.ID+"/notes", NoteRequest{
		AuthorID: "agent-a", Content: "customer prefers email", IsPrivate: false,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/sessions/"+sess.ID+"/notes", NoteRequest{
		AuthorID: "agent-a", Content: "VIP account", IsPrivate: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}

	w = env.do(t, "GET", "/api/sessions/"+sess.ID+"/notes", nil)
	var public NotesResponse
	decode(t, w, &public)
	if len(public.Notes) != 1 {
		t.Fatalf("Expected 1 public note, got %d", len(public.Notes))
	}

	w = env.do(t, "GET", "/api/sessions/"+sess.ID+"/notes?include_private=true", nil)
	var all NotesResponse
	decode(t, w, &all)
	if len(all.Notes) != 2 {
		t.Errorf("Expected 2 notes with include_private, got %d", len(all.Notes))
	}

	w = env.do(t, "POST", "/api/sessions/"+sess.ID+"/notes", NoteRequest{AuthorID: "agent-a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Missing content: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandoffEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeSupport)
	if _, err := env.assignments.Assign(context.Background(), sess.ID, "agent-a", nil, types.AssignmentTypeManual, ""); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	w := env.do(t, "POST", "/api/sessions/"+sess.ID+"/handoff", HandoffRequest{
		FromUserID: "agent-a", ToUserID: "agent-b", Reason: "shift change",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var handoffContext types.HandoffContext
	decode(t, w, &handoffContext)
	if handoffContext.SessionID != sess.ID {
		t.Errorf("Context session = %q, want %q", handoffContext.SessionID, sess.ID)
	}

	active, err := env.assignments.GetActive(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.SupportUserID != "agent-b" {
		t.Errorf("Active agent = %q, want agent-b", active.SupportUserID)
	}

	w = env.do(t, "POST", "/api/sessions/"+sess.ID+"/handoff", HandoffRequest{
		FromUserID: "agent-b", ToUserID: "nobody", Reason: "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Unknown agent: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEscalateEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeSupport)

	w := env.do(t, "POST", "/api/sessions/"+sess.ID+"/escalate", EscalateRequest{
		EscalatedBy: "agent-a", Reason: "needs management approval",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	active, err := env.assignments.GetActive(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.SupportUserID != "mgr-1" || active.AssignmentType != types.AssignmentTypeEscalated {
		t.Errorf("Unexpected active assignment: %+v", active)
	}

	w = env.do(t, "POST", "/api/sessions/"+sess.ID+"/escalate", EscalateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Missing escalated_by: expected %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEscalationsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	if _, err := env.escalations.RequestSupport(context.Background(), sess.ID, "customer-1", ""); err != nil {
		t.Fatalf("RequestSupport failed: %v", err)
	}

	w := env.do(t, "GET", "/api/sessions/"+sess.ID+"/escalations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp EscalationsResponse
	decode(t, w, &resp)
	if len(resp.Escalations) != 1 || resp.Escalations[0].Reason != escalation.ReasonUserRequested {
		t.Errorf("Unexpected escalations: %+v", resp.Escalations)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	w := env.do(t, "GET", "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp map[string]interface{}
	decode(t, w, &resp)
	for _, key := range []string{"connections", "sessions", "escalations", "timestamp"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("Stats response missing %q", key)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" || resp.Database != "healthy" {
		t.Errorf("Unexpected health: %+v", resp)
	}
	if resp.Connections == nil {
		t.Error("Expected connection statistics")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest("OPTIONS", "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Preflight: expected %d, got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected CORS headers to be set")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newAPIEnv(t)
	sess := env.seedSession(t, "customer-1", types.SessionTypeGeneral)

	for _, probe := range []struct{ method, path string }{
		{"PUT", "/api/sessions"},
		{"POST", "/api/sessions/" + sess.ID},
		{"DELETE", "/api/sessions/" + sess.ID + "/messages"},
	} {
		w := env.do(t, probe.method, probe.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected %d, got %d", probe.method, probe.path, http.StatusMethodNotAllowed, w.Code)
		}
	}
}

func TestNotifyEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	// No live connections is still a successful dispatch
	w := env.do(t, http.MethodPost, "/api/notify", NotifyRequest{
		Roles:   []string{types.RoleSupport},
		Payload: map[string]interface{}{"text": "queue backlog is growing"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}
	var resp NotifyResponse
	decode(t, w, &resp)
	if !resp.Dispatched {
		t.Error("Expected dispatched=true")
	}

	w = env.do(t, http.MethodPost, "/api/notify", NotifyRequest{
		UserID:  "agent-a",
		Payload: map[string]interface{}{"text": "a session is waiting"},
	})
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected %d for user target, got %d", http.StatusAccepted, w.Code)
	}

	// Some target is required
	w = env.do(t, http.MethodPost, "/api/notify", NotifyRequest{Payload: "orphan"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected %d without a target, got %d", http.StatusBadRequest, w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/notify", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected %d for GET, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}
