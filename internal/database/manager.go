package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "livedesk/pkg/database"
	"livedesk/pkg/interfaces"
	"livedesk/pkg/types"
)

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after 5 seconds on write failure
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// marshalMetadata serializes optional metadata to a nullable column value.
func marshalMetadata(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// CreateSession creates a new session in the database
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: Transaction support essential for atomic session operations
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		metadata, err := sessionMetadataValue(session.Metadata)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO sessions (id, user_id, session_type, title, status, priority, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, query,
			session.ID,
			session.UserID,
			session.SessionType,
			session.Title,
			session.Status,
			session.Priority,
			metadata,
			session.CreatedAt,
			session.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}

		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, user_id, session_type, title, status, priority, metadata, created_at, updated_at, closed_at
		FROM sessions
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	return session, nil
}

// FindActiveSession returns the active session for a user and session type
// FUNCTIONAL DISCOVERY: Backs the at-most-one-active invariant - newest row
// wins if historical data ever violated it
func (m *Manager) FindActiveSession(ctx context.Context, userID, sessionType string) (*types.Session, error) {
	query := `
		SELECT id, user_id, session_type, title, status, priority, metadata, created_at, updated_at, closed_at
		FROM sessions
		WHERE user_id = ? AND session_type = ? AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := m.db.QueryRowContext(ctx, query, userID, sessionType)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}

	return session, nil
}

// UpdateSession updates an existing session
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		metadata, err := sessionMetadataValue(session.Metadata)
		if err != nil {
			return err
		}

		query := `
			UPDATE sessions
			SET session_type = ?, title = ?, status = ?, priority = ?, metadata = ?, updated_at = ?, closed_at = ?
			WHERE id = ?
		`

		_, err = db.ExecContext(ctx, query,
			session.SessionType,
			session.Title,
			session.Status,
			session.Priority,
			metadata,
			session.UpdatedAt,
			session.ClosedAt,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		return nil
	})
}

// ListActiveSessions returns all active sessions
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.listSessions(ctx, `
		SELECT id, user_id, session_type, title, status, priority, metadata, created_at, updated_at, closed_at
		FROM sessions
		WHERE status = 'active'
		ORDER BY created_at DESC
	`)
}

// ListActiveSessionsByType returns active sessions of one type
func (m *Manager) ListActiveSessionsByType(ctx context.Context, sessionType string) ([]*types.Session, error) {
	return m.listSessions(ctx, `
		SELECT id, user_id, session_type, title, status, priority, metadata, created_at, updated_at, closed_at
		FROM sessions
		WHERE status = 'active' AND session_type = ?
		ORDER BY created_at DESC
	`, sessionType)
}

func (m *Manager) listSessions(ctx context.Context, query string, args ...interface{}) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// StoreMessage stores a message in the database
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		metadata, err := marshalMetadata(messageMetadataOrNil(message.Metadata))
		if err != nil {
			return err
		}

		var senderID string
		if message.SenderID != nil {
			senderID = *message.SenderID
		}

		query := `
			INSERT INTO messages (id, session_id, sender_id, sender_type, message_type, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err = db.ExecContext(ctx, query,
			message.ID,
			message.SessionID,
			senderID,
			message.SenderType,
			message.MessageType,
			message.Content,
			metadata,
			message.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		return nil
	})
}

// UpdateMessageMetadata rewrites only the metadata column of a message
// FUNCTIONAL DISCOVERY: The timeline is append-only - edits and deletes are
// metadata flags, never row mutation of content or removal
func (m *Manager) UpdateMessageMetadata(ctx context.Context, messageID string, metadata *types.MessageMetadata) error {
	return m.executeWrite(func(db *sql.DB) error {
		value, err := marshalMetadata(messageMetadataOrNil(metadata))
		if err != nil {
			return err
		}

		result, err := db.ExecContext(ctx,
			"UPDATE messages SET metadata = ? WHERE id = ?",
			value, messageID,
		)
		if err != nil {
			return fmt.Errorf("failed to update message metadata: %w", err)
		}

		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			return fmt.Errorf("message %s not found", messageID)
		}

		return nil
	})
}

// GetSessionHistory retrieves all messages for a session
func (m *Manager) GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Message, error) {
	// FUNCTIONAL DISCOVERY: Order by created_at ASC for chronological message history
	return m.listMessages(ctx, `
		SELECT id, session_id, sender_id, sender_type, message_type, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
}

// GetRecentMessages returns up to limit most recent messages, newest first
func (m *Manager) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	return m.listMessages(ctx, `
		SELECT id, session_id, sender_id, sender_type, message_type, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionID, limit)
}

func (m *Manager) listMessages(ctx context.Context, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var message types.Message
		var senderID string
		var metadataJSON sql.NullString

		err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&senderID,
			&message.SenderType,
			&message.MessageType,
			&message.Content,
			&metadataJSON,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		if senderID != "" {
			message.SenderID = &senderID
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			var metadata types.MessageMetadata
			if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
			message.Metadata = &metadata
		}

		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// CreateAssignment persists a new support assignment
func (m *Manager) CreateAssignment(ctx context.Context, assignment *types.SupportAssignment) error {
	return m.executeWrite(func(db *sql.DB) error {
		var assignedBy string
		if assignment.AssignedBy != nil {
			assignedBy = *assignment.AssignedBy
		}

		query := `
			INSERT INTO support_assignments (id, session_id, agent_id, assigned_by, assignment_type, status, note, created_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := db.ExecContext(ctx, query,
			assignment.ID,
			assignment.SessionID,
			assignment.SupportUserID,
			assignedBy,
			assignment.AssignmentType,
			assignment.Status,
			assignment.Notes,
			assignment.AssignedAt,
			assignment.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assignment: %w", err)
		}

		return nil
	})
}

// UpdateAssignment updates status, notes and completion time
func (m *Manager) UpdateAssignment(ctx context.Context, assignment *types.SupportAssignment) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE support_assignments
			SET status = ?, note = ?, ended_at = ?
			WHERE id = ?
		`

		result, err := db.ExecContext(ctx, query,
			assignment.Status,
			assignment.Notes,
			assignment.CompletedAt,
			assignment.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update assignment: %w", err)
		}

		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			return interfaces.ErrAssignmentNotFound
		}

		return nil
	})
}

// GetActiveAssignment returns the current active assignment for a session
func (m *Manager) GetActiveAssignment(ctx context.Context, sessionID string) (*types.SupportAssignment, error) {
	query := `
		SELECT id, session_id, agent_id, assigned_by, assignment_type, status, note, created_at, ended_at
		FROM support_assignments
		WHERE session_id = ? AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)
	assignment, err := scanAssignment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to query active assignment: %w", err)
	}

	return assignment, nil
}

// ListSessionAssignments returns all assignments of a session, newest first
// FUNCTIONAL DISCOVERY: The full list is the session's transfer history
func (m *Manager) ListSessionAssignments(ctx context.Context, sessionID string) ([]*types.SupportAssignment, error) {
	query := `
		SELECT id, session_id, agent_id, assigned_by, assignment_type, status, note, created_at, ended_at
		FROM support_assignments
		WHERE session_id = ?
		ORDER BY created_at DESC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []*types.SupportAssignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments = append(assignments, assignment)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment rows: %w", err)
	}

	return assignments, nil
}

// CountActiveAssignments returns how many sessions a support user carries
func (m *Manager) CountActiveAssignments(ctx context.Context, supportUserID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM support_assignments WHERE agent_id = ? AND status = 'active'",
		supportUserID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active assignments: %w", err)
	}
	return count, nil
}

// ListActiveRules returns active rules of one kind ordered by priority descending
func (m *Manager) ListActiveRules(ctx context.Context, kind string) ([]*types.RoutingRule, error) {
	query := `
		SELECT id, name, kind, is_active, priority, conditions, skip_if_assigned, max_applications, assign_to_id, actions, created_at, updated_at
		FROM routing_rules
		WHERE kind = ? AND is_active = 1
		ORDER BY priority DESC
	`

	rows, err := m.db.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query routing rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*types.RoutingRule
	for rows.Next() {
		var rule types.RoutingRule
		var conditionsJSON, actionsJSON sql.NullString

		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Kind,
			&rule.IsActive,
			&rule.Priority,
			&conditionsJSON,
			&rule.SkipIfAssigned,
			&rule.MaxApplications,
			&rule.AssignToID,
			&actionsJSON,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}

		if conditionsJSON.Valid && conditionsJSON.String != "" {
			if err := json.Unmarshal([]byte(conditionsJSON.String), &rule.Conditions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule conditions: %w", err)
			}
		}

		if actionsJSON.Valid && actionsJSON.String != "" {
			var actions types.RuleActions
			if err := json.Unmarshal([]byte(actionsJSON.String), &actions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule actions: %w", err)
			}
			rule.Actions = &actions
		}

		rules = append(rules, &rule)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule rows: %w", err)
	}

	return rules, nil
}

// SaveRule inserts or replaces a routing rule definition.
func (m *Manager) SaveRule(ctx context.Context, rule *types.RoutingRule) error {
	return m.executeWrite(func(db *sql.DB) error {
		conditions, err := marshalMetadata(rule.Conditions)
		if err != nil {
			return err
		}

		var actions interface{}
		if rule.Actions != nil {
			actions, err = marshalMetadata(rule.Actions)
			if err != nil {
				return err
			}
		}

		query := `
			INSERT OR REPLACE INTO routing_rules
				(id, name, kind, is_active, priority, conditions, skip_if_assigned, max_applications, assign_to_id, actions, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err = db.ExecContext(ctx, query,
			rule.ID,
			rule.Name,
			rule.Kind,
			rule.IsActive,
			rule.Priority,
			conditions,
			rule.SkipIfAssigned,
			rule.MaxApplications,
			rule.AssignToID,
			actions,
			rule.CreatedAt,
			rule.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save routing rule: %w", err)
		}

		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait() // Wait for write loop to finish processing

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*types.Session, error) {
	var session types.Session
	var metadataJSON sql.NullString
	var closedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.SessionType,
		&session.Title,
		&session.Status,
		&session.Priority,
		&metadataJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		var metadata types.SessionMetadata
		if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
		session.Metadata = &metadata
	}

	if closedAt.Valid {
		session.ClosedAt = &closedAt.Time
	}

	return &session, nil
}

func scanAssignment(row scanner) (*types.SupportAssignment, error) {
	var assignment types.SupportAssignment
	var assignedBy string
	var endedAt sql.NullTime

	err := row.Scan(
		&assignment.ID,
		&assignment.SessionID,
		&assignment.SupportUserID,
		&assignedBy,
		&assignment.AssignmentType,
		&assignment.Status,
		&assignment.Notes,
		&assignment.AssignedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedBy != "" {
		assignment.AssignedBy = &assignedBy
	}

	if endedAt.Valid {
		assignment.CompletedAt = &endedAt.Time
	}

	return &assignment, nil
}

func sessionMetadataValue(metadata *types.SessionMetadata) (interface{}, error) {
	if metadata == nil {
		return nil, nil
	}
	return marshalMetadata(metadata)
}

func messageMetadataOrNil(metadata *types.MessageMetadata) interface{} {
	if metadata == nil {
		return nil
	}
	return metadata
}
