package contracts

import (
	"encoding/json"
	"time"
)

// AuditAction names a recorded state transition.
type AuditAction string

const (
	ActionTeamCreated         AuditAction = "team.created"
	ActionTeamUpdated         AuditAction = "team.updated"
	ActionAssetCreated        AuditAction = "asset.created"
	ActionAssetUpdated        AuditAction = "asset.updated"
	ActionContractPublished   AuditAction = "contract.published"
	ActionContractDeprecated  AuditAction = "contract.deprecated"
	ActionContractForced      AuditAction = "contract.force_published"
	ActionRegistrationCreated AuditAction = "registration.created"
	ActionRegistrationUpdated AuditAction = "registration.updated"
	ActionRegistrationDeleted AuditAction = "registration.deleted"
	ActionProposalCreated     AuditAction = "proposal.created"
	ActionProposalAcked       AuditAction = "proposal.acknowledged"
	ActionProposalWithdrawn   AuditAction = "proposal.withdrawn"
	ActionProposalForced      AuditAction = "proposal.force_approved"
	ActionProposalExpired     AuditAction = "proposal.expired"
	ActionAPIKeyCreated       AuditAction = "api_key.created"
	ActionAPIKeyRevoked       AuditAction = "api_key.revoked"
)

// AuditEvent is one append-only row in the audit log. Events are never
// updated or deleted.
type AuditEvent struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"-"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     AuditAction     `json:"action"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WebhookStatus is a delivery's life-cycle state.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookDelivered WebhookStatus = "delivered"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookDelivery tracks one outbound notification. Delivery is
// at-least-once; consumers deduplicate on payload id.
type WebhookDelivery struct {
	ID             string          `json:"id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	URL            string          `json:"url"`
	Status         WebhookStatus   `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}
