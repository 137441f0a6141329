package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database migration
// ARCHITECTURAL DISCOVERY: Migration struct encapsulates all information needed
// for safe schema evolution across application versions
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// builtinMigrations is the compiled-in schema history. Versions must be
// unique and sortable; new schema changes append a new entry.
var builtinMigrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_type TEXT NOT NULL CHECK (session_type IN ('support', 'general')),
				title TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed')),
				priority TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
				metadata TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				closed_at DATETIME
			);

			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				sender_id TEXT NOT NULL,
				sender_type TEXT NOT NULL CHECK (sender_type IN ('user', 'ai', 'support', 'system')),
				message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'file', 'url', 'system')),
				content TEXT NOT NULL,
				metadata TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS support_assignments (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				agent_id TEXT NOT NULL,
				assigned_by TEXT NOT NULL DEFAULT '',
				assignment_type TEXT NOT NULL CHECK (assignment_type IN ('manual', 'auto', 'escalated')),
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'transferred')),
				note TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				ended_at DATETIME
			);

			CREATE TABLE IF NOT EXISTS routing_rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('assignment', 'escalation')),
				is_active INTEGER NOT NULL DEFAULT 1,
				priority INTEGER NOT NULL DEFAULT 0,
				conditions TEXT,
				skip_if_assigned INTEGER NOT NULL DEFAULT 0,
				max_applications INTEGER NOT NULL DEFAULT 0,
				assign_to_id TEXT NOT NULL DEFAULT '',
				actions TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sessions_user_type ON sessions(user_id, session_type, status);
			CREATE INDEX IF NOT EXISTS idx_messages_session_time ON messages(session_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_assignments_session ON support_assignments(session_id, status);
			CREATE INDEX IF NOT EXISTS idx_assignments_agent_status ON support_assignments(agent_id, status);
			CREATE INDEX IF NOT EXISTS idx_rules_kind_priority ON routing_rules(kind, is_active, priority);
		`,
	},
}

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Manager pattern encapsulates migration state and
// operations so schema evolution works the same in tests and production
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a migration manager over the built-in schema.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{
		db:         db,
		migrations: builtinMigrations,
	}
}

// ApplyMigrations applies all pending migrations
// ARCHITECTURAL DISCOVERY: Transaction-based migration application ensures
// atomicity - either a migration succeeds completely or is not recorded
func (m *MigrationManager) ApplyMigrations() error {
	err := m.createMigrationTable()
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	// TECHNICAL DISCOVERY: Migration ordering by version ensures consistent
	// application order across environments
	migrations := make([]Migration, len(m.migrations))
	copy(migrations, m.migrations)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if !contains(applied, migration.Version) {
			err = m.applyMigration(migration)
			if err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
			}
		}
	}

	return nil
}

// createMigrationTable creates the migration tracking table
func (m *MigrationManager) createMigrationTable() error {
	sql := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.Exec(sql)
	return err
}

// getAppliedMigrations returns list of already applied migration versions
func (m *MigrationManager) getAppliedMigrations() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			// Ignore cleanup errors to avoid masking the primary error
			_ = err
		}
	}()

	var versions []string
	for rows.Next() {
		var version string
		err = rows.Scan(&version)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// applyMigration applies a single migration within a transaction
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			// Ignore rollback errors to avoid masking the primary error
			_ = err
		}
	}()

	_, err = tx.Exec(migration.SQL)
	if err != nil {
		return err
	}

	_, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
