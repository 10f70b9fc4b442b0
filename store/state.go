package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/stellar/go/support/errors"
)

// Keys in coordinator_state. Loader cursors use a per-asset suffix via
// CursorKey.
const (
	StateVotesInFlight    = "votes_in_flight"
	StateTrustorsInFlight = "trustors_in_flight"
	StateIngestCursor     = "bribes_loader_cursor"
)

// CursorKey names the trustee-loader cursor for one asset.
func CursorKey(code, issuer string) string {
	return code + ":" + issuer + "_trustees_loader"
}

// StateGet returns the cached value for key, or "" when the key is missing
// or expired.
func (s *Store) StateGet(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM coordinator_state
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, errors.Wrap(err, "loading state")
}

// StateSet stores a value for key. A zero ttl keeps the value forever.
func (s *Store) StateSet(ctx context.Context, key, value string, ttl time.Duration) error {
	var expires interface{}
	if ttl > 0 {
		expires = time.Now().UTC().Add(ttl)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coordinator_state (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expires)
	return errors.Wrap(err, "storing state")
}

// StateDelete removes a key.
func (s *Store) StateDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM coordinator_state WHERE key = $1`, key)
	return errors.Wrap(err, "deleting state")
}

// GetFlag reports whether the named flag is raised.
func (s *Store) GetFlag(ctx context.Context, key string) (bool, error) {
	v, err := s.StateGet(ctx, key)
	return v == "1", err
}

// SetFlag raises or clears the named flag. Raised flags carry a ttl so a
// crashed job cannot wedge the payer forever.
func (s *Store) SetFlag(ctx context.Context, key string, up bool, ttl time.Duration) error {
	if !up {
		return s.StateDelete(ctx, key)
	}
	return s.StateSet(ctx, key, "1", ttl)
}
