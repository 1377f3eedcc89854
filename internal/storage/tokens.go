package storage

// tokens.go contains SQLiteStore methods for the gateway-issued device auth
// token. The token is overwritten whenever the gateway issues a new one.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// DeviceToken is the auth token issued by the gateway after a successful
// signed handshake. It supersedes the operator token on later connections.
type DeviceToken struct {
	Token       string
	Role        string
	Scopes      []string // order preserved, it is part of the signed payload
	UpdatedAtMs int64
}

// SaveDeviceToken persists a newly issued device token, replacing any
// previous one. Implements the facade's state store contract.
func (s *SQLiteStore) SaveDeviceToken(token, role string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving device token (role %s)", role)

	const query = `
		INSERT OR REPLACE INTO device_token (id, token, role, scopes, updated_at_ms)
		VALUES (1, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, token, role, strings.Join(scopes, ","), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save device token: %w", err)
	}
	return nil
}

// DeviceToken returns the stored device token, or nil, nil when none exists.
func (s *SQLiteStore) DeviceToken() (*DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `SELECT token, role, scopes, updated_at_ms FROM device_token WHERE id = 1`

	var (
		tok    DeviceToken
		scopes string
	)
	err := s.db.QueryRow(query).Scan(&tok.Token, &tok.Role, &scopes, &tok.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load device token: %w", err)
	}

	if scopes != "" {
		tok.Scopes = strings.Split(scopes, ",")
	}
	return &tok, nil
}

// ClearDeviceToken removes the stored device token.
func (s *SQLiteStore) ClearDeviceToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM device_token WHERE id = 1"); err != nil {
		return fmt.Errorf("clear device token: %w", err)
	}
	return nil
}
