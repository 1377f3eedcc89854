package storage

// identity.go contains SQLiteStore methods for the device identity record.
// The client holds exactly one identity at a time; regenerating it replaces
// the row and invalidates any previously issued device token.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/clawline/clawline/internal/identity"
)

// SaveIdentity persists the device identity, replacing any existing one.
func (s *SQLiteStore) SaveIdentity(id *identity.Identity) error {
	if id == nil {
		return errors.New("identity cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving device identity %s", id.DeviceID)

	const query = `
		INSERT OR REPLACE INTO device_identity
			(id, version, device_id, public_key, private_key, created_at_ms)
		VALUES (1, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, id.Version, id.DeviceID, id.PublicKey, id.PrivateKey, id.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Identity loads the device identity and revalidates its device id against
// the stored public key. A stale id is repaired, logged and re-persisted.
// Returns nil, nil when no identity has been generated yet.
func (s *SQLiteStore) Identity() (*identity.Identity, error) {
	s.mu.RLock()
	const query = `
		SELECT version, device_id, public_key, private_key, created_at_ms
		FROM device_identity WHERE id = 1
	`
	var id identity.Identity
	err := s.db.QueryRow(query).Scan(&id.Version, &id.DeviceID, &id.PublicKey, &id.PrivateKey, &id.CreatedAtMs)
	s.mu.RUnlock()

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	valid, repaired, err := identity.Validate(&id)
	if err != nil {
		return nil, fmt.Errorf("validate identity: %w", err)
	}
	if repaired {
		log.Printf("identity: repaired device id %s", valid.DeviceID)
		if err := s.SaveIdentity(valid); err != nil {
			return nil, err
		}
	}
	return valid, nil
}

// DeleteIdentity removes the device identity and its device token. Used when
// the identity is regenerated: the old token was bound to the old key.
func (s *SQLiteStore) DeleteIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: deleting device identity")

	if _, err := s.db.Exec("DELETE FROM device_identity WHERE id = 1"); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM device_token WHERE id = 1"); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}
