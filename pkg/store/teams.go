package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tesserahq/tessera/pkg/contracts"
)

// CreateTeam inserts a team. Duplicate names surface as ErrConflict.
func (t *Tx) CreateTeam(ctx context.Context, team *contracts.Team) error {
	meta, err := marshalMap(team.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, metadata, created_at)
		VALUES ($1, $2, $3, $4)`,
		team.ID, team.Name, string(meta), team.CreatedAt.UTC(),
	)
	return mapError(err)
}

// UpdateTeam updates name and metadata of a live team.
func (t *Tx) UpdateTeam(ctx context.Context, team *contracts.Team) error {
	meta, err := marshalMap(team.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE teams SET name = $1, metadata = $2
		WHERE id = $3 AND deleted_at IS NULL`,
		team.Name, string(meta), team.ID,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// GetTeam fetches a live team by id.
func (t *Tx) GetTeam(ctx context.Context, id string) (*contracts.Team, error) {
	return t.scanTeam(t.tx.QueryRowContext(ctx, `
		SELECT id, name, metadata, created_at, deleted_at
		FROM teams WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetTeamByName fetches a live team by unique name.
func (t *Tx) GetTeamByName(ctx context.Context, name string) (*contracts.Team, error) {
	return t.scanTeam(t.tx.QueryRowContext(ctx, `
		SELECT id, name, metadata, created_at, deleted_at
		FROM teams WHERE name = $1 AND deleted_at IS NULL`, name))
}

// FirstTeam returns the oldest live team; the bootstrap key binds to it.
func (t *Tx) FirstTeam(ctx context.Context) (*contracts.Team, error) {
	return t.scanTeam(t.tx.QueryRowContext(ctx, `
		SELECT id, name, metadata, created_at, deleted_at
		FROM teams WHERE deleted_at IS NULL
		ORDER BY created_at ASC LIMIT 1`))
}

// ListTeams returns live teams, paginated, plus the total count.
func (t *Tx) ListTeams(ctx context.Context, limit, offset int) ([]*contracts.Team, int, error) {
	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM teams WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, metadata, created_at, deleted_at
		FROM teams WHERE deleted_at IS NULL
		ORDER BY name ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	teams := make([]*contracts.Team, 0)
	for rows.Next() {
		team, err := t.scanTeamRow(rows)
		if err != nil {
			return nil, 0, err
		}
		teams = append(teams, team)
	}
	return teams, total, mapError(rows.Err())
}

// SearchTeams matches live teams by name substring.
func (t *Tx) SearchTeams(ctx context.Context, query string, limit int) ([]*contracts.Team, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, metadata, created_at, deleted_at
		FROM teams
		WHERE deleted_at IS NULL AND name LIKE $1
		ORDER BY name ASC LIMIT $2`, "%"+query+"%", limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	teams := make([]*contracts.Team, 0)
	for rows.Next() {
		team, err := t.scanTeamRow(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, mapError(rows.Err())
}

// SoftDeleteTeam stamps deleted_at; the row stays for history.
func (t *Tx) SoftDeleteTeam(ctx context.Context, id string, now sql.NullTime) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE teams SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tx) scanTeam(row rowScanner) (*contracts.Team, error) {
	team, err := t.scanTeamRow(row)
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (t *Tx) scanTeamRow(row rowScanner) (*contracts.Team, error) {
	var team contracts.Team
	var meta []byte
	var deletedAt sql.NullTime
	if err := row.Scan(&team.ID, &team.Name, &meta, &team.CreatedAt, &deletedAt); err != nil {
		return nil, mapError(err)
	}
	team.Metadata = unmarshalMap(meta)
	team.DeletedAt = timePtr(deletedAt)
	team.CreatedAt = team.CreatedAt.UTC()
	return &team, nil
}

// GetUser fetches a live user by id. Used by the session fallback.
func (t *Tx) GetUser(ctx context.Context, id string) (*contracts.User, error) {
	var user contracts.User
	var teamID sql.NullString
	var notif []byte
	var deactivated sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, email, name, team_id, password_hash, role, notifications, created_at, deactivated_at
		FROM users WHERE id = $1 AND deactivated_at IS NULL`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &teamID, &user.PasswordHash,
		&user.Role, &notif, &user.CreatedAt, &deactivated)
	if err != nil {
		return nil, mapError(err)
	}
	user.TeamID = teamID.String
	user.Notifications = unmarshalMap(notif)
	user.DeactivatedAt = timePtr(deactivated)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// CreateUser inserts a user. Duplicate emails surface as ErrConflict.
func (t *Tx) CreateUser(ctx context.Context, user *contracts.User) error {
	notif, err := marshalMap(user.Notifications)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, team_id, password_hash, role, notifications, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, nullString(user.TeamID),
		user.PasswordHash, user.Role, string(notif), user.CreatedAt.UTC(),
	)
	return mapError(err)
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return contracts.ErrNotFound
	}
	return nil
}
