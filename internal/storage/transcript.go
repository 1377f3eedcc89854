package storage

// transcript.go contains SQLiteStore methods for the local transcript log.
// Completed streaming runs are appended here so past conversations survive
// restarts without a round trip to the gateway.

import (
	"fmt"
	"time"
)

// TranscriptEntry is one completed message of a chat run.
type TranscriptEntry struct {
	SessionKey string
	RunID      string
	Role       string
	Text       string
	CreatedAt  time.Time
}

// AppendTranscript records one completed message.
func (s *SQLiteStore) AppendTranscript(sessionKey, runID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO transcript (session_key, run_id, role, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, sessionKey, runID, role, text, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Transcript returns the most recent entries for a session in chronological
// order. A limit of zero returns everything.
func (s *SQLiteStore) Transcript(sessionKey string, limit int) ([]TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT session_key, run_id, role, text, created_at
		FROM transcript
		WHERE session_key = ?
		ORDER BY id DESC
	`
	args := []any{sessionKey}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var (
			entry     TranscriptEntry
			createdAt string
		)
		if err := rows.Scan(&entry.SessionKey, &entry.RunID, &entry.Role, &entry.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entry.CreatedAt = t
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	// Newest-first from the query; flip to chronological for display.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
