package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tesserahq/tessera/pkg/contracts"
)

const assetColumns = `id, fqn, owner_team_id, owner_user_id, environment,
	resource_type, guarantee_mode, metadata, created_at, deleted_at`

// CreateAsset inserts an asset. Duplicate FQNs surface as ErrConflict.
func (t *Tx) CreateAsset(ctx context.Context, asset *contracts.Asset) error {
	meta, err := marshalMap(asset.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO assets (id, fqn, owner_team_id, owner_user_id, environment,
			resource_type, guarantee_mode, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		asset.ID, asset.FQN, asset.OwnerTeamID, nullString(asset.OwnerUserID),
		asset.Environment, asset.ResourceType, asset.GuaranteeMode,
		string(meta), asset.CreatedAt.UTC(),
	)
	return mapError(err)
}

// UpdateAsset updates the mutable fields of a live asset.
func (t *Tx) UpdateAsset(ctx context.Context, asset *contracts.Asset) error {
	meta, err := marshalMap(asset.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE assets
		SET environment = $1, resource_type = $2, guarantee_mode = $3,
			metadata = $4, owner_user_id = $5
		WHERE id = $6 AND deleted_at IS NULL`,
		asset.Environment, asset.ResourceType, asset.GuaranteeMode,
		string(meta), nullString(asset.OwnerUserID), asset.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// GetAsset fetches a live asset by id.
func (t *Tx) GetAsset(ctx context.Context, id string) (*contracts.Asset, error) {
	return scanAsset(t.tx.QueryRowContext(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetAssetByFQN fetches a live asset by its unique FQN.
func (t *Tx) GetAssetByFQN(ctx context.Context, fqn string) (*contracts.Asset, error) {
	return scanAsset(t.tx.QueryRowContext(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE fqn = $1 AND deleted_at IS NULL`, fqn))
}

// ListAssets returns live assets, paginated, plus the total count.
func (t *Tx) ListAssets(ctx context.Context, limit, offset int) ([]*contracts.Asset, int, error) {
	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE deleted_at IS NULL
		ORDER BY fqn ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	assets := make([]*contracts.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		assets = append(assets, asset)
	}
	return assets, total, mapError(rows.Err())
}

// SearchAssets matches live assets whose FQN contains the query.
func (t *Tx) SearchAssets(ctx context.Context, query string, limit int) ([]*contracts.Asset, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE deleted_at IS NULL AND fqn LIKE $1
		ORDER BY fqn ASC LIMIT $2`, "%"+query+"%", limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	assets := make([]*contracts.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, mapError(rows.Err())
}

// SoftDeleteAsset stamps deleted_at.
func (t *Tx) SoftDeleteAsset(ctx context.Context, id string, now sql.NullTime) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE assets SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func scanAsset(row rowScanner) (*contracts.Asset, error) {
	var asset contracts.Asset
	var ownerUser sql.NullString
	var meta []byte
	var deletedAt sql.NullTime
	err := row.Scan(&asset.ID, &asset.FQN, &asset.OwnerTeamID, &ownerUser,
		&asset.Environment, &asset.ResourceType, &asset.GuaranteeMode,
		&meta, &asset.CreatedAt, &deletedAt)
	if err != nil {
		return nil, mapError(err)
	}
	asset.OwnerUserID = ownerUser.String
	asset.Metadata = unmarshalMap(meta)
	asset.DeletedAt = timePtr(deletedAt)
	asset.CreatedAt = asset.CreatedAt.UTC()
	return &asset, nil
}

// CreateDependency inserts an asset-to-asset edge. The pair is unique;
// duplicates surface as ErrConflict.
func (t *Tx) CreateDependency(ctx context.Context, dep *contracts.AssetDependency) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO asset_dependencies
			(id, dependent_asset_id, dependency_asset_id, dependency_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		dep.ID, dep.DependentAssetID, dep.DependencyAssetID,
		dep.DependencyType, dep.CreatedAt.UTC(),
	)
	return mapError(err)
}

// ListDependents returns the edges pointing at the given asset, i.e.
// "who depends on me". Drives the downstream impact walk.
func (t *Tx) ListDependents(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error) {
	return t.listDependencies(ctx, `dependency_asset_id`, assetID)
}

// ListDependencies returns the edges leaving the given asset, i.e. its
// upstream inputs.
func (t *Tx) ListDependencies(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error) {
	return t.listDependencies(ctx, `dependent_asset_id`, assetID)
}

func (t *Tx) listDependencies(ctx context.Context, column, assetID string) ([]*contracts.AssetDependency, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, dependent_asset_id, dependency_asset_id, dependency_type, created_at
		FROM asset_dependencies WHERE `+column+` = $1
		ORDER BY created_at ASC`, assetID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	deps := make([]*contracts.AssetDependency, 0)
	for rows.Next() {
		var dep contracts.AssetDependency
		if err := rows.Scan(&dep.ID, &dep.DependentAssetID, &dep.DependencyAssetID,
			&dep.DependencyType, &dep.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		dep.CreatedAt = dep.CreatedAt.UTC()
		deps = append(deps, &dep)
	}
	return deps, mapError(rows.Err())
}
