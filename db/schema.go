// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for integrations, mappings, sync logs and sessions
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS integrations (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT,
	is_enabled INTEGER NOT NULL DEFAULT 0,
	is_connected INTEGER NOT NULL DEFAULT 0,
	access_token TEXT,
	refresh_token TEXT,
	token_expires_at DATETIME,
	external_account_id TEXT,
	last_sync_at DATETIME,
	last_error TEXT,
	token_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS field_mappings (
	id TEXT PRIMARY KEY,
	integration_id TEXT NOT NULL,
	source_field TEXT NOT NULL,
	target_object TEXT NOT NULL,
	target_field TEXT NOT NULL,
	transform_type TEXT NOT NULL DEFAULT 'none' CHECK(transform_type IN ('none', 'map', 'format')),
	transform_config TEXT,
	is_enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (integration_id) REFERENCES integrations(id),
	UNIQUE(integration_id, target_object, target_field)
);

CREATE INDEX IF NOT EXISTS idx_field_mappings_integration ON field_mappings(integration_id);

CREATE TABLE IF NOT EXISTS sync_logs (
	id TEXT PRIMARY KEY,
	integration_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	sync_type TEXT NOT NULL CHECK(sync_type IN ('create', 'update', 'retry')),
	object_type TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('pending', 'success', 'failed', 'retrying')),
	external_id TEXT,
	request_payload TEXT,
	response_data TEXT,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (integration_id) REFERENCES integrations(id)
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_integration_session ON sync_logs(integration_id, session_id);
CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs(status);
CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC);

CREATE TABLE IF NOT EXISTS session_summaries (
	session_id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL,
	user_email TEXT,
	outcome TEXT NOT NULL,
	score REAL NOT NULL,
	grade TEXT NOT NULL,
	sales_mode TEXT NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	updated_at DATETIME NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
