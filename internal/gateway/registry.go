package gateway

import (
	"log"
	"sync"
)

// Registry manages live connections with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic -
// three indexes are kept consistent under one lock: by connection id, by user
// id (multi-tab) and by session room
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection            // connID -> Connection
	userConns   map[string]map[string]*Connection // userID -> connID -> Connection
	rooms       map[string]map[string]*Connection // sessionID -> connID -> Connection
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil access during
// concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		userConns:   make(map[string]map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
	}
}

// Register adds an authenticated connection to the registry
// FUNCTIONAL DISCOVERY: A user may hold several live connections (multiple
// tabs), so registration never evicts an existing connection of the same user
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.GetID()] = conn

	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[string]*Connection)
	}
	r.userConns[userID][conn.GetID()] = conn

	return nil
}

// Unregister removes a connection from all indexes atomically
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent cleanup -
// a second unregister of the same connection is a no-op
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	connID := conn.GetID()
	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[connID]; !exists {
		return
	}

	delete(r.connections, connID)

	if conns, exists := r.userConns[userID]; exists {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
		}
	}

	// TECHNICAL DISCOVERY: Clean up empty room maps to prevent memory leaks
	if sessionID := conn.GetSessionID(); sessionID != "" {
		if room, exists := r.rooms[sessionID]; exists {
			delete(room, connID)
			if len(room) == 0 {
				delete(r.rooms, sessionID)
			}
		}
	}
}

// JoinRoom moves a connection into a session room, leaving any previous room
// first. Joining the room it is already in is a no-op.
func (r *Registry) JoinRoom(conn *Connection, sessionID string) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.GetID()]; !exists {
		return ErrConnectionNotAuthenticated
	}

	previous := conn.GetSessionID()
	if previous == sessionID {
		return nil
	}

	if previous != "" {
		r.leaveRoomLocked(conn, previous)
	}

	if r.rooms[sessionID] == nil {
		r.rooms[sessionID] = make(map[string]*Connection)
	}
	r.rooms[sessionID][conn.GetID()] = conn
	conn.SetSessionID(sessionID)

	return nil
}

// LeaveRoom removes a connection from its session room. Leaving a room the
// connection is not in is a no-op.
func (r *Registry) LeaveRoom(conn *Connection, sessionID string) {
	if conn == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveRoomLocked(conn, sessionID)
}

func (r *Registry) leaveRoomLocked(conn *Connection, sessionID string) {
	if room, exists := r.rooms[sessionID]; exists {
		delete(room, conn.GetID())
		if len(room) == 0 {
			delete(r.rooms, sessionID)
		}
	}
	if conn.GetSessionID() == sessionID {
		conn.SetSessionID("")
	}
}

// GetConnection returns a connection by id.
func (r *Registry) GetConnection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	return conn, exists
}

// GetUserConnections returns all live connections of a user.
func (r *Registry) GetUserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.userConns[userID] {
		connections = append(connections, conn)
	}
	return connections
}

// IsUserOnline reports whether a user has at least one live connection.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

// GetRoomConnections returns all connections joined to a session room
// FUNCTIONAL DISCOVERY: Snapshot copy lets callers fan out without holding
// the registry lock during socket writes
func (r *Registry) GetRoomConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.rooms[sessionID] {
		connections = append(connections, conn)
	}
	return connections
}

// GetConnectionsByRole returns connections whose user holds any of the roles.
func (r *Registry) GetConnectionsByRole(roles ...string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.connections {
		role := conn.GetRole()
		for _, want := range roles {
			if role == want {
				connections = append(connections, conn)
				break
			}
		}
	}
	return connections
}

// GetAllConnections returns a snapshot of every registered connection.
func (r *Registry) GetAllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// GetSessionUserCount returns the number of distinct users in a room.
func (r *Registry) GetSessionUserCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]bool)
	for _, conn := range r.rooms[sessionID] {
		users[conn.GetUserID()] = true
	}
	return len(users)
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"connected_users":   len(r.userConns),
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll closes every registered connection, used during shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.GetAllConnections() {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.GetID(), err)
		}
	}
}
