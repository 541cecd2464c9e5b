package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

// EnqueueWebhook inserts a pending delivery row inside the mutation's
// transaction, so a rolled-back mutation never leaks a delivery.
func (t *Tx) EnqueueWebhook(ctx context.Context, d *contracts.WebhookDelivery) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, event_type, payload, url, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		d.ID, d.EventType, string(d.Payload), d.URL, contracts.WebhookPending, d.CreatedAt.UTC(),
	)
	return mapError(err)
}

// PendingWebhooks returns deliveries awaiting an attempt, oldest first.
// The worker polls this outside any request transaction.
func (s *Store) PendingWebhooks(ctx context.Context, limit int) ([]*contracts.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, payload, url, status, attempts, last_error, last_status_code, created_at, delivered_at
		FROM webhook_deliveries
		WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	deliveries := make([]*contracts.WebhookDelivery, 0)
	for rows.Next() {
		var d contracts.WebhookDelivery
		var payload string
		var deliveredAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.EventType, &payload, &d.URL, &d.Status,
			&d.Attempts, &d.LastError, &d.LastStatusCode, &d.CreatedAt, &deliveredAt); err != nil {
			return nil, mapError(err)
		}
		d.Payload = []byte(payload)
		d.DeliveredAt = timePtr(deliveredAt)
		d.CreatedAt = d.CreatedAt.UTC()
		deliveries = append(deliveries, &d)
	}
	return deliveries, mapError(rows.Err())
}

// MarkWebhookDelivered stamps a successful delivery.
func (s *Store) MarkWebhookDelivered(ctx context.Context, id string, statusCode int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempts = attempts + 1,
			last_status_code = $1, last_error = '', delivered_at = $2
		WHERE id = $3`, statusCode, now.UTC(), id)
	return mapError(err)
}

// RecordWebhookFailure increments the attempt counter and records the
// failure; once attempts reach maxAttempts the row moves to failed.
func (s *Store) RecordWebhookFailure(ctx context.Context, id string, statusCode int, cause string, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1,
			last_status_code = $1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $4`, statusCode, cause, maxAttempts, id)
	return mapError(err)
}
