// Package audit records append-only events for every mutation and
// exports checksummed evidence bundles of the trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// ActorFunc resolves the acting identity from a request context. The
// wiring layer supplies one so this package stays below the auth layer.
type ActorFunc func(ctx context.Context) string

// Recorder writes audit events inside the caller's transaction, so an
// event never outlives a rolled-back mutation and a committed mutation
// never loses its event. Recording failures fail the mutation.
type Recorder struct {
	actorID ActorFunc
	logger  *slog.Logger
}

func NewRecorder(actorID ActorFunc, logger *slog.Logger) *Recorder {
	if actorID == nil {
		actorID = func(context.Context) string { return "system" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{actorID: actorID, logger: logger}
}

// Record appends one event. The payload is an optional before/after
// snapshot serialized into the event row.
func (r *Recorder) Record(ctx context.Context, tx *store.Tx, entityType, entityID string, action contracts.AuditAction, payload any) error {
	event := &contracts.AuditEvent{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    r.actorID(ctx),
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("audit: marshal payload for %s: %w", action, err)
		}
		event.Payload = raw
	}
	if err := tx.AppendAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("audit: append %s for %s/%s: %w", action, entityType, entityID, err)
	}
	r.logger.Debug("audit event recorded",
		"action", event.Action,
		"entity_type", entityType,
		"entity_id", entityID,
		"actor_id", event.ActorID,
	)
	return nil
}
