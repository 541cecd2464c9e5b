package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// KeyService owns the API key life cycle: mint, list, revoke.
type KeyService struct {
	store    *store.Store
	recorder *audit.Recorder
	env      string
}

func NewKeyService(s *store.Store, recorder *audit.Recorder, env string) *KeyService {
	if env == "" {
		env = "dev"
	}
	return &KeyService{store: s, recorder: recorder, env: env}
}

// CreateKey mints a key for a team and persists its hash. The returned
// secret is shown once; only its hash and prefix survive.
func (k *KeyService) CreateKey(ctx context.Context, teamID, name string, scopes []contracts.Scope, expiresAt *time.Time) (*contracts.APIKey, string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return nil, "", contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if !p.OwnsTeam(teamID) {
		return nil, "", contracts.NewError(contracts.CodeWrongTeam, "cannot manage keys for another team")
	}

	minted, err := MintKey(k.env)
	if err != nil {
		return nil, "", err
	}
	key := &contracts.APIKey{
		ID:        uuid.New().String(),
		KeyHash:   minted.Hash,
		KeyPrefix: minted.Prefix,
		Name:      name,
		TeamID:    teamID,
		Scopes:    contracts.NewScopeSet(scopes...),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := key.Validate(); err != nil {
		return nil, "", err
	}

	err = k.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTeam(ctx, teamID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeTeamNotFound, "team %s not found", teamID)
			}
			return err
		}
		if err := tx.CreateAPIKey(ctx, key); err != nil {
			return err
		}
		return k.recorder.Record(ctx, tx, "api_key", key.ID, contracts.ActionAPIKeyCreated,
			map[string]any{"team_id": teamID, "name": name, "scopes": key.Scopes.Slice()})
	})
	if err != nil {
		return nil, "", err
	}
	return key, minted.Secret, nil
}

// ListKeys returns a team's keys, hashes omitted from serialization.
func (k *KeyService) ListKeys(ctx context.Context, teamID string) ([]*contracts.APIKey, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if !p.OwnsTeam(teamID) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot list keys for another team")
	}

	var keys []*contracts.APIKey
	err = k.store.View(ctx, func(tx *store.Tx) error {
		keys, err = tx.ListAPIKeys(ctx, teamID)
		return err
	})
	return keys, err
}

// GetKey fetches one key by id, subject to team ownership.
func (k *KeyService) GetKey(ctx context.Context, keyID string) (*contracts.APIKey, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	var key *contracts.APIKey
	err = k.store.View(ctx, func(tx *store.Tx) error {
		key, err = tx.GetAPIKey(ctx, keyID)
		return err
	})
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return nil, contracts.NewError(contracts.CodeKeyNotFound, "api key %s not found", keyID)
		}
		return nil, err
	}
	if !p.OwnsTeam(key.TeamID) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot read another team's key")
	}
	return key, nil
}

// RevokeKey stamps the key revoked. Requests presenting it fail from
// the next authentication onward; revoking twice is a no-op.
func (k *KeyService) RevokeKey(ctx context.Context, keyID string) error {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	return k.store.WithTx(ctx, func(tx *store.Tx) error {
		key, err := tx.GetAPIKey(ctx, keyID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeKeyNotFound, "api key %s not found", keyID)
			}
			return err
		}
		if !p.OwnsTeam(key.TeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "cannot revoke another team's key")
		}
		if key.RevokedAt != nil {
			return nil
		}
		if err := tx.RevokeAPIKey(ctx, keyID, time.Now().UTC()); err != nil {
			return err
		}
		return k.recorder.Record(ctx, tx, "api_key", keyID, contracts.ActionAPIKeyRevoked,
			map[string]any{"team_id": key.TeamID})
	})
}
