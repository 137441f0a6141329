package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livedesk/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Helper function to create a test WebSocket connection
func createTestWebSocketConnection(t *testing.T) *websocket.Conn {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		// Keep connection alive for testing
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}))

	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}

	return conn
}

func newTestConnection(t *testing.T) *Connection {
	wsConn := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, 100, 5*time.Second)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	// Verify Connection implements interfaces.Connection
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	conn := newTestConnection(t)

	if conn.GetID() == "" {
		t.Error("Connection should have a generated id")
	}

	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}

	if conn.IsAuthenticated() {
		t.Error("New connection should not be authenticated")
	}
}

func TestConnection_AuthenticationFlow(t *testing.T) {
	conn := newTestConnection(t)

	if conn.IsAuthenticated() {
		t.Error("New connection should not be authenticated")
	}

	err := conn.SetCredentials("user123", "customer")
	if err != nil {
		t.Errorf("SetCredentials failed: %v", err)
	}

	if !conn.IsAuthenticated() {
		t.Error("Connection should be authenticated after SetCredentials")
	}

	if conn.GetUserID() != "user123" {
		t.Errorf("Expected userID 'user123', got '%s'", conn.GetUserID())
	}
	if conn.GetRole() != "customer" {
		t.Errorf("Expected role 'customer', got '%s'", conn.GetRole())
	}

	// Rebinding an authenticated connection is rejected
	if err := conn.SetCredentials("other", "support"); err != ErrAlreadyAuthenticated {
		t.Errorf("Expected ErrAlreadyAuthenticated, got %v", err)
	}
	if conn.GetUserID() != "user123" {
		t.Error("Credentials should not change on rejected rebind")
	}
}

func TestConnection_SessionRoomTracking(t *testing.T) {
	conn := newTestConnection(t)

	if conn.GetSessionID() != "" {
		t.Error("New connection should not be in a session room")
	}

	conn.SetSessionID("session-1")
	if conn.GetSessionID() != "session-1" {
		t.Errorf("Expected sessionID 'session-1', got '%s'", conn.GetSessionID())
	}

	conn.SetSessionID("")
	if conn.GetSessionID() != "" {
		t.Error("SessionID should be cleared")
	}
}

func TestConnection_WriteEventDelivery(t *testing.T) {
	conn := newTestConnection(t)

	err := conn.WriteEvent("session-joined", map[string]interface{}{
		"session_id": "session-1",
	})
	if err != nil {
		t.Errorf("WriteEvent failed: %v", err)
	}
}

func TestConnection_WriteEventAfterClose(t *testing.T) {
	conn := newTestConnection(t)

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	err := conn.WriteEvent("session-joined", nil)
	if err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn := newTestConnection(t)

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if !conn.IsClosed() {
		t.Error("Connection should report closed")
	}
}

func TestConnection_TouchUpdatesLastSeen(t *testing.T) {
	conn := newTestConnection(t)

	before := conn.LastSeen()
	time.Sleep(10 * time.Millisecond)
	conn.Touch()

	if !conn.LastSeen().After(before) {
		t.Error("Touch should advance LastSeen")
	}
}

func TestConnection_ConcurrentWritesDuringClose(t *testing.T) {
	conn := newTestConnection(t)

	// Writers racing Close must only ever see an error, never a panic
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				err := conn.WriteEvent("message-received", map[string]interface{}{"seq": j})
				if err != nil && err != ErrConnectionClosed && err != ErrWriteTimeout {
					t.Errorf("Unexpected write error: %v", err)
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		<-done
	}
}
