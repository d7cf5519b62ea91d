package config

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		username VARCHAR(255) UNIQUE,
		password VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL CHECK (role IN ('admin', 'investor')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		user_name VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		submitted_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		resolved_by VARCHAR(36)
	)`,
	`CREATE TABLE IF NOT EXISTS approval_changes (
		id VARCHAR(36) PRIMARY KEY,
		approval_request_id VARCHAR(36) NOT NULL REFERENCES approval_requests(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id VARCHAR(255) NOT NULL,
		field_name VARCHAR(255) NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		apply_status VARCHAR(16) NOT NULL DEFAULT '',
		apply_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS investor_notifications (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		approval_request_id VARCHAR(36) UNIQUE NOT NULL REFERENCES approval_requests(id) ON DELETE CASCADE,
		message TEXT NOT NULL,
		type VARCHAR(16) NOT NULL CHECK (type IN ('approved', 'rejected')),
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		read_at TIMESTAMP
	)`,
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests(status, submitted_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_approval_changes_request ON approval_changes(approval_request_id, position)",
	"CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON investor_notifications(user_id, is_read)",
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			// indexes are not required for correctness
			slog.Warn("failed to create index", "error", err)
		}
	}

	return nil
}
