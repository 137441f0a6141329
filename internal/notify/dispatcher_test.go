package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livedesk/internal/events"
	"livedesk/internal/gateway"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testClient pairs a server-side gateway connection with the client socket
// so tests can assert on what the client actually receives.
type testClient struct {
	conn   *gateway.Connection
	client *websocket.Conn
}

func dialTestClient(t *testing.T, userID, role string) *testClient {
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverSide <- conn
		// Hold the handler open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() { server.CloseClientConnections(); server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	conn := gateway.NewConnection(<-serverSide, 100, time.Second)
	t.Cleanup(func() { conn.Close() })
	if err := conn.SetCredentials(userID, role); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	return &testClient{conn: conn, client: client}
}

// readEvent reads the next frame from the client socket.
func (c *testClient) readEvent(t *testing.T) types.Envelope {
	_ = c.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.client.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read client frame: %v", err)
	}
	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Failed to parse client frame: %v", err)
	}
	return envelope
}

// expectNoEvent asserts the client receives nothing within the window.
func (c *testClient) expectNoEvent(t *testing.T) {
	_ = c.client.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := c.client.ReadMessage()
	if err == nil {
		t.Error("Client received an event it should not have")
	}
}

type fakeDirectory struct {
	users map[string]*types.User
}

func (f *fakeDirectory) GetUser(ctx context.Context, userID string) (*types.User, error) {
	user, exists := f.users[userID]
	if !exists {
		return nil, interfaces.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeDirectory) ListByRole(ctx context.Context, roles ...string) ([]*types.User, error) {
	var matched []*types.User
	for _, user := range f.users {
		if user.IsActive && user.HasRole(roles...) {
			matched = append(matched, user)
		}
	}
	return matched, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, envelope events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestDispatcher_SendToUserReachesAllTabs(t *testing.T) {
	registry := gateway.NewRegistry()
	dispatcher := NewDispatcher(registry, &fakeDirectory{users: map[string]*types.User{}}, nil)

	tab1 := dialTestClient(t, "user1", types.RoleCustomer)
	tab2 := dialTestClient(t, "user1", types.RoleCustomer)
	other := dialTestClient(t, "user2", types.RoleCustomer)

	for _, c := range []*testClient{tab1, tab2, other} {
		if err := registry.Register(c.conn); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	dispatcher.SendToUser("user1", types.EventNotification, map[string]string{"text": "hello"})

	for _, tab := range []*testClient{tab1, tab2} {
		envelope := tab.readEvent(t)
		if envelope.Event != types.EventNotification {
			t.Errorf("Expected notification event, got '%s'", envelope.Event)
		}
	}
	other.expectNoEvent(t)
}

func TestDispatcher_SendToRolesFiltersByDirectoryMembership(t *testing.T) {
	registry := gateway.NewRegistry()
	directory := &fakeDirectory{users: map[string]*types.User{
		"agent1": {ID: "agent1", Roles: []string{types.RoleSupport}, IsActive: true},
		"mgr1":   {ID: "mgr1", Roles: []string{types.RoleManager}, IsActive: true},
		"cust1":  {ID: "cust1", Roles: []string{types.RoleCustomer}, IsActive: true},
	}}
	dispatcher := NewDispatcher(registry, directory, nil)

	agent := dialTestClient(t, "agent1", types.RoleSupport)
	manager := dialTestClient(t, "mgr1", types.RoleManager)
	customer := dialTestClient(t, "cust1", types.RoleCustomer)

	for _, c := range []*testClient{agent, manager, customer} {
		if err := registry.Register(c.conn); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	dispatcher.SendToRoles([]string{types.RoleManager, types.RoleAdmin}, types.EventEscalationAlert, nil)

	envelope := manager.readEvent(t)
	if envelope.Event != types.EventEscalationAlert {
		t.Errorf("Expected escalation-alert, got '%s'", envelope.Event)
	}
	agent.expectNoEvent(t)
	customer.expectNoEvent(t)
}

func TestDispatcher_SendToRolesDeliversOncePerConnection(t *testing.T) {
	registry := gateway.NewRegistry()
	// User whose directory record and connection role both match
	directory := &fakeDirectory{users: map[string]*types.User{
		"mgr1": {ID: "mgr1", Roles: []string{types.RoleManager}, IsActive: true},
	}}
	dispatcher := NewDispatcher(registry, directory, nil)

	manager := dialTestClient(t, "mgr1", types.RoleManager)
	if err := registry.Register(manager.conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	dispatcher.SendToRoles([]string{types.RoleManager}, types.EventEscalationAlert, nil)

	manager.readEvent(t)
	manager.expectNoEvent(t) // no duplicate
}

func TestDispatcher_BroadcastToSessionExcludesSender(t *testing.T) {
	registry := gateway.NewRegistry()
	dispatcher := NewDispatcher(registry, &fakeDirectory{users: map[string]*types.User{}}, nil)

	sender := dialTestClient(t, "user1", types.RoleCustomer)
	listener := dialTestClient(t, "user2", types.RoleSupport)
	outsider := dialTestClient(t, "user3", types.RoleCustomer)

	for _, c := range []*testClient{sender, listener, outsider} {
		if err := registry.Register(c.conn); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := registry.JoinRoom(sender.conn, "session-1"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if err := registry.JoinRoom(listener.conn, "session-1"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	dispatcher.BroadcastToSession("session-1", types.EventMessageReceived, nil, sender.conn.GetID())

	envelope := listener.readEvent(t)
	if envelope.Event != types.EventMessageReceived {
		t.Errorf("Expected message-received, got '%s'", envelope.Event)
	}
	sender.expectNoEvent(t)
	outsider.expectNoEvent(t)
}

func TestDispatcher_MirrorsToPublisher(t *testing.T) {
	registry := gateway.NewRegistry()
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(registry, &fakeDirectory{users: map[string]*types.User{}}, publisher)

	dispatcher.SendToUser("nobody", types.EventNotification, nil)
	dispatcher.BroadcastToSession("session-1", types.EventMessageReceived, nil, "")

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.keys) != 2 {
		t.Fatalf("Expected 2 mirrored events, got %d", len(publisher.keys))
	}
	if publisher.keys[0] != "gateway."+types.EventNotification {
		t.Errorf("Unexpected routing key %s", publisher.keys[0])
	}
}
