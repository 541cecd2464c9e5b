package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tesserahq/tessera/pkg/contracts"
)

const contractColumns = `id, asset_id, version, schema_def, compatibility_mode,
	guarantees, status, published_at, published_by`

// InsertContract writes a new contract row. Inserting a second active
// contract for the same asset trips the partial unique index and
// surfaces as ErrConflict — the loser of a publish race sees that.
func (t *Tx) InsertContract(ctx context.Context, c *contracts.Contract) error {
	var guarantees any
	if c.Guarantees != nil {
		raw, err := json.Marshal(c.Guarantees)
		if err != nil {
			return fmt.Errorf("marshal guarantees: %w", err)
		}
		guarantees = string(raw)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO contracts (id, asset_id, version, schema_def, compatibility_mode,
			guarantees, status, published_at, published_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.AssetID, c.Version, string(c.SchemaDef), c.CompatibilityMode,
		guarantees, c.Status, c.PublishedAt.UTC(), c.PublishedBy,
	)
	return mapError(err)
}

// GetContract fetches a contract by id.
func (t *Tx) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	return scanContract(t.tx.QueryRowContext(ctx, `
		SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
}

// ActiveContract returns the single active contract for an asset, or
// ErrNotFound when the asset has never published.
func (t *Tx) ActiveContract(ctx context.Context, assetID string) (*contracts.Contract, error) {
	return scanContract(t.tx.QueryRowContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE asset_id = $1 AND status = 'active'`, assetID))
}

// ContractHistory returns every contract for an asset, newest first.
func (t *Tx) ContractHistory(ctx context.Context, assetID string) ([]*contracts.Contract, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE asset_id = $1
		ORDER BY published_at DESC`, assetID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	history := make([]*contracts.Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, c)
	}
	return history, mapError(rows.Err())
}

// DeprecateContract moves an active contract to deprecated.
func (t *Tx) DeprecateContract(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE contracts SET status = 'deprecated'
		WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// SearchContracts matches contracts by version substring.
func (t *Tx) SearchContracts(ctx context.Context, query string, limit int) ([]*contracts.Contract, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE version LIKE $1
		ORDER BY published_at DESC LIMIT $2`, "%"+query+"%", limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*contracts.Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

func scanContract(row rowScanner) (*contracts.Contract, error) {
	var c contracts.Contract
	var schemaDef string
	var guarantees sql.NullString
	err := row.Scan(&c.ID, &c.AssetID, &c.Version, &schemaDef, &c.CompatibilityMode,
		&guarantees, &c.Status, &c.PublishedAt, &c.PublishedBy)
	if err != nil {
		return nil, mapError(err)
	}
	c.SchemaDef = json.RawMessage(schemaDef)
	if guarantees.Valid && guarantees.String != "" {
		var g contracts.Guarantees
		if err := json.Unmarshal([]byte(guarantees.String), &g); err == nil {
			c.Guarantees = &g
		}
	}
	c.PublishedAt = c.PublishedAt.UTC()
	return &c, nil
}

// CreateRegistration inserts a consumer registration. The
// (contract, consumer team) pair is unique.
func (t *Tx) CreateRegistration(ctx context.Context, r *contracts.Registration) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO registrations
			(id, contract_id, consumer_team_id, pinned_version, status, registered_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ContractID, r.ConsumerTeamID, nullString(r.PinnedVersion),
		r.Status, r.RegisteredAt.UTC(), nullTime(r.AcknowledgedAt),
	)
	return mapError(err)
}

// UpdateRegistration updates status, pin and acknowledgment stamp.
func (t *Tx) UpdateRegistration(ctx context.Context, r *contracts.Registration) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE registrations
		SET status = $1, pinned_version = $2, acknowledged_at = $3
		WHERE id = $4`,
		r.Status, nullString(r.PinnedVersion), nullTime(r.AcknowledgedAt), r.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// DeleteRegistration removes a registration row.
func (t *Tx) DeleteRegistration(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// GetRegistration fetches a registration by id.
func (t *Tx) GetRegistration(ctx context.Context, id string) (*contracts.Registration, error) {
	return scanRegistration(t.tx.QueryRowContext(ctx, `
		SELECT id, contract_id, consumer_team_id, pinned_version, status, registered_at, acknowledged_at
		FROM registrations WHERE id = $1`, id))
}

// ActiveRegistrations returns the active consumer registrations on a
// contract; the impact walk collects consumers from these.
func (t *Tx) ActiveRegistrations(ctx context.Context, contractID string) ([]*contracts.Registration, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, contract_id, consumer_team_id, pinned_version, status, registered_at, acknowledged_at
		FROM registrations
		WHERE contract_id = $1 AND status = 'active'
		ORDER BY registered_at ASC`, contractID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	regs := make([]*contracts.Registration, 0)
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return regs, mapError(rows.Err())
}

func scanRegistration(row rowScanner) (*contracts.Registration, error) {
	var r contracts.Registration
	var pinned sql.NullString
	var acked sql.NullTime
	err := row.Scan(&r.ID, &r.ContractID, &r.ConsumerTeamID, &pinned,
		&r.Status, &r.RegisteredAt, &acked)
	if err != nil {
		return nil, mapError(err)
	}
	r.PinnedVersion = pinned.String
	r.AcknowledgedAt = timePtr(acked)
	r.RegisteredAt = r.RegisteredAt.UTC()
	return &r, nil
}
