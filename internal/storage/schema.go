package storage

import "fmt"

// currentSchemaVersion tracks the database schema for future migrations.
const currentSchemaVersion = 1

// initSchema creates all tables if they don't exist. Single-row tables use
// a fixed primary key so INSERT OR REPLACE acts as an upsert.
func (s *SQLiteStore) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS schema_info (
			version INTEGER NOT NULL
		);

		-- Scalar client state: pairing_status, session_key.
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		-- The single device identity of this client.
		CREATE TABLE IF NOT EXISTS device_identity (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			version       INTEGER NOT NULL,
			device_id     TEXT NOT NULL,
			public_key    TEXT NOT NULL,
			private_key   TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);

		-- The gateway-issued device auth token, overwritten on re-issue.
		CREATE TABLE IF NOT EXISTS device_token (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			token         TEXT NOT NULL,
			role          TEXT NOT NULL,
			scopes        TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);

		-- Local log of completed chat runs.
		CREATE TABLE IF NOT EXISTS transcript (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			run_id      TEXT NOT NULL,
			role        TEXT NOT NULL,
			text        TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_key, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	// Record the schema version on first creation.
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_info").Scan(&count); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_info (version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}

	return nil
}
