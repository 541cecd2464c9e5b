package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

const proposalColumns = `id, asset_id, proposed_schema, change_type, breaking_changes,
	status, proposed_by, proposed_at, resolved_at, expires_at, auto_expire`

// CreateProposal inserts a pending proposal.
func (t *Tx) CreateProposal(ctx context.Context, p *contracts.Proposal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO proposals (id, asset_id, proposed_schema, change_type, breaking_changes,
			status, proposed_by, proposed_at, expires_at, auto_expire)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.AssetID, string(p.ProposedSchema), p.ChangeType, string(p.BreakingChanges),
		p.Status, p.ProposedBy, p.ProposedAt.UTC(), nullTime(p.ExpiresAt), p.AutoExpire,
	)
	return mapError(err)
}

// GetProposal fetches a proposal by id.
func (t *Tx) GetProposal(ctx context.Context, id string) (*contracts.Proposal, error) {
	return scanProposal(t.tx.QueryRowContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
}

// ResolveProposal performs the single terminal transition out of
// pending. The WHERE status='pending' guard makes the transition
// first-writer-wins; a second resolver sees ErrNotFound.
func (t *Tx) ResolveProposal(ctx context.Context, id string, status contracts.ProposalStatus, resolvedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE proposals SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = 'pending'`,
		status, resolvedAt.UTC(), id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// PendingProposals returns every pending proposal; the expiry sweep
// scans these.
func (t *Tx) PendingProposals(ctx context.Context) ([]*contracts.Proposal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE status = 'pending'
		ORDER BY proposed_at ASC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	proposals := make([]*contracts.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, mapError(rows.Err())
}

// ProposalsForAsset returns an asset's proposals, newest first.
func (t *Tx) ProposalsForAsset(ctx context.Context, assetID string) ([]*contracts.Proposal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE asset_id = $1
		ORDER BY proposed_at DESC`, assetID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	proposals := make([]*contracts.Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, mapError(rows.Err())
}

func scanProposal(row rowScanner) (*contracts.Proposal, error) {
	var p contracts.Proposal
	var proposedSchema, breakingChanges string
	var resolvedAt, expiresAt sql.NullTime
	err := row.Scan(&p.ID, &p.AssetID, &proposedSchema, &p.ChangeType, &breakingChanges,
		&p.Status, &p.ProposedBy, &p.ProposedAt, &resolvedAt, &expiresAt, &p.AutoExpire)
	if err != nil {
		return nil, mapError(err)
	}
	p.ProposedSchema = []byte(proposedSchema)
	p.BreakingChanges = []byte(breakingChanges)
	p.ResolvedAt = timePtr(resolvedAt)
	p.ExpiresAt = timePtr(expiresAt)
	p.ProposedAt = p.ProposedAt.UTC()
	return &p, nil
}

// CreateAcknowledgment inserts a consumer response. The
// (proposal, consumer team) pair is unique.
func (t *Tx) CreateAcknowledgment(ctx context.Context, a *contracts.Acknowledgment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO acknowledgments
			(id, proposal_id, consumer_team_id, response, migration_deadline, notes, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ProposalID, a.ConsumerTeamID, a.Response,
		nullTime(a.MigrationDeadline), a.Notes, a.RespondedAt.UTC(),
	)
	return mapError(err)
}

// Acknowledgments returns all responses for a proposal.
func (t *Tx) Acknowledgments(ctx context.Context, proposalID string) ([]*contracts.Acknowledgment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, proposal_id, consumer_team_id, response, migration_deadline, notes, responded_at
		FROM acknowledgments WHERE proposal_id = $1
		ORDER BY responded_at ASC`, proposalID)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	acks := make([]*contracts.Acknowledgment, 0)
	for rows.Next() {
		var a contracts.Acknowledgment
		var deadline sql.NullTime
		if err := rows.Scan(&a.ID, &a.ProposalID, &a.ConsumerTeamID, &a.Response,
			&deadline, &a.Notes, &a.RespondedAt); err != nil {
			return nil, mapError(err)
		}
		a.MigrationDeadline = timePtr(deadline)
		a.RespondedAt = a.RespondedAt.UTC()
		acks = append(acks, &a)
	}
	return acks, mapError(rows.Err())
}
