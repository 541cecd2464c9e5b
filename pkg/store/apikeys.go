package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

const apiKeyColumns = `id, key_hash, key_prefix, name, team_id, scopes,
	created_at, expires_at, revoked_at, last_used_at`

// CreateAPIKey inserts a key record. The hash is unique.
func (t *Tx) CreateAPIKey(ctx context.Context, key *contracts.APIKey) error {
	scopes, err := json.Marshal(key.Scopes.Slice())
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, name, team_id, scopes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name, key.TeamID,
		string(scopes), key.CreatedAt.UTC(), nullTime(key.ExpiresAt),
	)
	return mapError(err)
}

// GetAPIKey fetches a key record by id.
func (t *Tx) GetAPIKey(ctx context.Context, id string) (*contracts.APIKey, error) {
	return scanAPIKey(t.tx.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

// CandidatesByPrefix returns the unrevoked, unexpired keys sharing a
// prefix. The caller verifies the salted hash against each candidate.
func (t *Tx) CandidatesByPrefix(ctx context.Context, prefix string, now time.Time) ([]*contracts.APIKey, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL
			AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC`, prefix, now.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]*contracts.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, mapError(rows.Err())
}

// ListAPIKeys returns a team's keys, newest first.
func (t *Tx) ListAPIKeys(ctx context.Context, teamID string) ([]*contracts.APIKey, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE team_id = $1
		ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]*contracts.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, mapError(rows.Err())
}

// RevokeAPIKey stamps revoked_at. Revoking twice is a no-op, so the
// operation is idempotent.
func (t *Tx) RevokeAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL`, now.UTC(), id)
	return mapError(err)
}

// TouchAPIKey stamps last_used_at. Called best-effort outside the
// request transaction, so it hangs off the Store rather than a Tx.
func (s *Store) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, now.UTC(), id)
	return mapError(err)
}

func scanAPIKey(row rowScanner) (*contracts.APIKey, error) {
	var key contracts.APIKey
	var scopes []byte
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	err := row.Scan(&key.ID, &key.KeyHash, &key.KeyPrefix, &key.Name, &key.TeamID,
		&scopes, &key.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if err != nil {
		return nil, mapError(err)
	}
	var list []contracts.Scope
	if err := json.Unmarshal(scopes, &list); err != nil {
		return nil, fmt.Errorf("corrupt scopes for key %s: %w", key.ID, err)
	}
	key.Scopes = contracts.NewScopeSet(list...)
	key.ExpiresAt = timePtr(expiresAt)
	key.RevokedAt = timePtr(revokedAt)
	key.LastUsedAt = timePtr(lastUsedAt)
	key.CreatedAt = key.CreatedAt.UTC()
	return &key, nil
}
