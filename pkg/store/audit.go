package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

// AppendAuditEvent writes one append-only row. There is no update or
// delete path for audit_events anywhere in this package.
func (t *Tx) AppendAuditEvent(ctx context.Context, e *contracts.AuditEvent) error {
	payload := sql.NullString{}
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, entity_type, entity_id, action, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EntityType, e.EntityID, e.Action,
		nullString(e.ActorID), payload, e.OccurredAt.UTC(),
	)
	return mapError(err)
}

// AuditFilter selects audit events. Zero values match everything.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// QueryAuditEvents returns matching events ordered by occurred_at
// descending, ties broken by insertion order (seq).
func (t *Tx) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]*contracts.AuditEvent, int, error) {
	where, args := f.build()

	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT seq, id, entity_type, entity_id, action, actor_id, payload, occurred_at
		FROM audit_events` + where + `
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*contracts.AuditEvent, 0)
	for rows.Next() {
		var e contracts.AuditEvent
		var actor, payload sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&actor, &payload, &e.OccurredAt); err != nil {
			return nil, 0, mapError(err)
		}
		e.ActorID = actor.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, &e)
	}
	return events, total, mapError(rows.Err())
}

// CountAuditEvents returns the total number of events.
func (t *Tx) CountAuditEvents(ctx context.Context) (int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&total)
	return total, mapError(err)
}

func (f AuditFilter) build() (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, clause+"$"+strconv.Itoa(len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = ", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ", f.EntityID)
	}
	if f.ActorID != "" {
		add("actor_id = ", f.ActorID)
	}
	if f.Action != "" {
		add("action = ", f.Action)
	}
	if f.Since != nil {
		add("occurred_at >= ", f.Since.UTC())
	}
	if f.Until != nil {
		add("occurred_at <= ", f.Until.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
