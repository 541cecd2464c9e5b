package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// CreateTeam registers a new team. Team names are globally unique.
func (e *Engine) CreateTeam(ctx context.Context, name string, metadata map[string]any) (*contracts.Team, error) {
	team := &contracts.Team{
		ID:        uuid.New().String(),
		Name:      name,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := team.Validate(); err != nil {
		return nil, err
	}
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			if contracts.CodeOf(err) == contracts.CodeDuplicate {
				return contracts.NewError(contracts.CodeDuplicate, "team %q already exists", name)
			}
			return err
		}
		return e.recorder.Record(ctx, tx, "team", team.ID, contracts.ActionTeamCreated,
			map[string]any{"name": name})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// UpdateTeam replaces a team's name and metadata.
func (e *Engine) UpdateTeam(ctx context.Context, id, name string, metadata map[string]any) (*contracts.Team, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if !p.OwnsTeam(id) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot update another team")
	}

	var team *contracts.Team
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		team, err = tx.GetTeam(ctx, id)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeTeamNotFound, "team %s not found", id)
			}
			return err
		}
		if name != "" {
			team.Name = name
		}
		if metadata != nil {
			team.Metadata = metadata
		}
		if err := team.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateTeam(ctx, team); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, "team", id, contracts.ActionTeamUpdated,
			map[string]any{"name": team.Name})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// GetTeam fetches one team.
func (e *Engine) GetTeam(ctx context.Context, id string) (*contracts.Team, error) {
	var team *contracts.Team
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		team, err = tx.GetTeam(ctx, id)
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return contracts.NewError(contracts.CodeTeamNotFound, "team %s not found", id)
		}
		return err
	})
	return team, err
}

// ListTeams pages through teams.
func (e *Engine) ListTeams(ctx context.Context, limit, offset int) ([]*contracts.Team, int, error) {
	var teams []*contracts.Team
	var total int
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		teams, total, err = tx.ListTeams(ctx, limit, offset)
		return err
	})
	return teams, total, err
}

// CreateAsset registers a new asset under the caller's team. The FQN
// is globally unique.
func (e *Engine) CreateAsset(ctx context.Context, asset *contracts.Asset) (*contracts.Asset, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if asset.OwnerTeamID == "" {
		asset.OwnerTeamID = p.TeamID
	}
	if !p.OwnsTeam(asset.OwnerTeamID) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot create assets for another team")
	}

	asset.ID = uuid.New().String()
	asset.CreatedAt = time.Now().UTC()
	if err := asset.Validate(); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			if contracts.CodeOf(err) == contracts.CodeDuplicate {
				return contracts.NewError(contracts.CodeDuplicate, "asset %q already exists", asset.FQN)
			}
			return err
		}
		return e.recorder.Record(ctx, tx, "asset", asset.ID, contracts.ActionAssetCreated,
			map[string]any{"fqn": asset.FQN, "owner_team_id": asset.OwnerTeamID})
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// UpdateAsset mutates asset attributes other than the FQN.
func (e *Engine) UpdateAsset(ctx context.Context, id string, update func(*contracts.Asset) error) (*contracts.Asset, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	var asset *contracts.Asset
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		asset, err = tx.GetAsset(ctx, id)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", id)
			}
			return err
		}
		if !p.OwnsTeam(asset.OwnerTeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "asset %s is owned by another team", asset.FQN)
		}
		if err := update(asset); err != nil {
			return err
		}
		if err := asset.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, "asset", id, contracts.ActionAssetUpdated,
			map[string]any{"fqn": asset.FQN})
	})
	if err != nil {
		return nil, err
	}
	e.cache.Delete(ctx, cache.AssetKey(id), cache.AssetByFQNKey(asset.FQN))
	return asset, nil
}

// GetAsset fetches one asset, read-through cached.
func (e *Engine) GetAsset(ctx context.Context, id string) (*contracts.Asset, error) {
	var asset contracts.Asset
	if e.cache.Get(ctx, cache.AssetKey(id), &asset) {
		return &asset, nil
	}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		got, err := tx.GetAsset(ctx, id)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", id)
			}
			return err
		}
		asset = *got
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, cache.AssetKey(id), &asset, cache.AssetTTL)
	return &asset, nil
}

// AddDependency records a directed upstream edge for an asset the
// caller owns. Self-loops are rejected; duplicate pairs conflict.
func (e *Engine) AddDependency(ctx context.Context, dependentAssetID, dependencyAssetID string, depType contracts.DependencyType) (*contracts.AssetDependency, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	dep := &contracts.AssetDependency{
		ID:                uuid.New().String(),
		DependentAssetID:  dependentAssetID,
		DependencyAssetID: dependencyAssetID,
		DependencyType:    depType,
		CreatedAt:         time.Now().UTC(),
	}
	if err := dep.Validate(); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		dependent, err := tx.GetAsset(ctx, dependentAssetID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", dependentAssetID)
			}
			return err
		}
		if !p.OwnsTeam(dependent.OwnerTeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "asset %s is owned by another team", dependent.FQN)
		}
		if _, err := tx.GetAsset(ctx, dependencyAssetID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", dependencyAssetID)
			}
			return err
		}
		if err := tx.CreateDependency(ctx, dep); err != nil {
			if contracts.CodeOf(err) == contracts.CodeDuplicate {
				return contracts.NewError(contracts.CodeDuplicate, "dependency already declared")
			}
			return err
		}
		return e.recorder.Record(ctx, tx, "asset", dependentAssetID, contracts.ActionAssetUpdated,
			map[string]any{"dependency_asset_id": dependencyAssetID, "dependency_type": depType})
	})
	if err != nil {
		return nil, err
	}

	// Lineage caches on both endpoints are stale now.
	for depth := 1; depth <= e.cfg.MaxDepth; depth++ {
		e.cache.Delete(ctx, cache.LineageKey(dependentAssetID, depth), cache.LineageKey(dependencyAssetID, depth))
	}
	return dep, nil
}

// Register declares a consumer team's dependency on a contract. The
// caller must belong to the consumer team or hold admin scope.
func (e *Engine) Register(ctx context.Context, contractID, consumerTeamID, pinnedVersion string) (*contracts.Registration, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if consumerTeamID == "" {
		consumerTeamID = p.TeamID
	}
	if !p.OwnsTeam(consumerTeamID) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot register on behalf of another team")
	}

	reg := &contracts.Registration{
		ID:             uuid.New().String(),
		ContractID:     contractID,
		ConsumerTeamID: consumerTeamID,
		PinnedVersion:  pinnedVersion,
		Status:         contracts.RegistrationActive,
		RegisteredAt:   time.Now().UTC(),
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetContract(ctx, contractID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeContractNotFound, "contract %s not found", contractID)
			}
			return err
		}
		if err := tx.CreateRegistration(ctx, reg); err != nil {
			if contracts.CodeOf(err) == contracts.CodeDuplicate {
				return contracts.NewError(contracts.CodeDuplicate,
					"team %s is already registered on contract %s", consumerTeamID, contractID)
			}
			return err
		}
		return e.recorder.Record(ctx, tx, "registration", reg.ID, contracts.ActionRegistrationCreated,
			map[string]any{"contract_id": contractID, "consumer_team_id": consumerTeamID})
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// UpdateRegistration changes a registration's status or version pin.
// Moving to migrating or inactive stamps the acknowledgment time.
func (e *Engine) UpdateRegistration(ctx context.Context, registrationID string, status contracts.RegistrationStatus, pinnedVersion string) (*contracts.Registration, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	var reg *contracts.Registration
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		reg, err = tx.GetRegistration(ctx, registrationID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeNotFound, "registration %s not found", registrationID)
			}
			return err
		}
		if !p.OwnsTeam(reg.ConsumerTeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "cannot update another team's registration")
		}
		if status != "" {
			reg.Status = status
		}
		if pinnedVersion != "" {
			reg.PinnedVersion = pinnedVersion
		}
		if reg.Status != contracts.RegistrationActive && reg.AcknowledgedAt == nil {
			now := time.Now().UTC()
			reg.AcknowledgedAt = &now
		}
		if err := reg.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, "registration", registrationID, contracts.ActionRegistrationUpdated,
			map[string]any{"status": reg.Status, "pinned_version": reg.PinnedVersion})
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister removes a consumer registration.
func (e *Engine) Unregister(ctx context.Context, registrationID string) error {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		reg, err := tx.GetRegistration(ctx, registrationID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeNotFound, "registration %s not found", registrationID)
			}
			return err
		}
		if !p.OwnsTeam(reg.ConsumerTeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "cannot remove another team's registration")
		}
		if err := tx.DeleteRegistration(ctx, registrationID); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, "registration", registrationID, contracts.ActionRegistrationDeleted,
			map[string]any{"contract_id": reg.ContractID, "consumer_team_id": reg.ConsumerTeamID})
	})
}

// ActiveContract returns an asset's active contract, read-through
// cached.
func (e *Engine) ActiveContract(ctx context.Context, assetID string) (*contracts.Contract, error) {
	var contract contracts.Contract
	if e.cache.Get(ctx, cache.ContractKey(assetID), &contract) {
		return &contract, nil
	}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		got, err := tx.ActiveContract(ctx, assetID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeContractNotFound, "no active contract for asset %s", assetID)
			}
			return err
		}
		contract = *got
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, cache.ContractKey(assetID), &contract, cache.ContractTTL)
	return &contract, nil
}

// ContractHistory returns every contract ever published for an asset.
func (e *Engine) ContractHistory(ctx context.Context, assetID string) ([]*contracts.Contract, error) {
	var history []*contracts.Contract
	err := e.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetAsset(ctx, assetID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", assetID)
			}
			return err
		}
		var err error
		history, err = tx.ContractHistory(ctx, assetID)
		return err
	})
	return history, err
}
