package storage

// state.go contains SQLiteStore methods for scalar client state kept in the
// kv table: pairing status and the current session key.

import (
	"database/sql"
	"errors"
	"fmt"
)

const (
	keyPairingStatus = "pairing_status"
	keySessionKey    = "session_key"
)

func (s *SQLiteStore) setKV(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == "" {
		if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	}

	const query = `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) getKV(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// SavePairingStatus records a pairing state transition.
func (s *SQLiteStore) SavePairingStatus(status string) error {
	return s.setKV(keyPairingStatus, status)
}

// PairingStatus returns the stored pairing status, defaulting to "unpaired".
func (s *SQLiteStore) PairingStatus() (string, error) {
	status, err := s.getKV(keyPairingStatus)
	if err != nil {
		return "", err
	}
	if status == "" {
		return "unpaired", nil
	}
	return status, nil
}

// SaveSessionKey persists the current session key. An empty key clears it.
func (s *SQLiteStore) SaveSessionKey(key string) error {
	return s.setKV(keySessionKey, key)
}

// SessionKey returns the persisted session key, or "" when none is set.
func (s *SQLiteStore) SessionKey() (string, error) {
	return s.getKV(keySessionKey)
}
