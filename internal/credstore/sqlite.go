package credstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"credsync/internal/crypto"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS integration_credentials (
	tenant_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'NEEDS_SETUP',
	access_token TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	office_id TEXT NOT NULL DEFAULT '',
	secret TEXT NOT NULL DEFAULT '',
	access_token_expiry TIMESTAMP,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, provider)
);
CREATE INDEX IF NOT EXISTS idx_integration_credentials_expiry
	ON integration_credentials (access_token_expiry);
`

// NewSQLiteStore opens (and migrates) a SQLite-backed credential store.
// Suitable for single-instance deployments; PostgreSQL is the multi-instance
// backend.
func NewSQLiteStore(databasePath string, encryptor *crypto.ConfigEncryptor) (*SQLStore, error) {
	if databasePath == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	db, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStore{db: db, driver: "sqlite", encryptor: encryptor}, nil
}
