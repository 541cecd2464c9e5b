package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tesserahq/tessera/pkg/versioning"
)

// ProposalStatus is the proposal state machine. Pending is the only
// non-terminal state; a proposal leaves it exactly once.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalWithdrawn ProposalStatus = "withdrawn"
	ProposalExpired   ProposalStatus = "expired"
)

// Terminal reports whether the status is a terminal state.
func (s ProposalStatus) Terminal() bool {
	return s != ProposalPending
}

// Proposal is a breaking change awaiting consumer sign-off.
type Proposal struct {
	ID              string                `json:"id"`
	AssetID         string                `json:"asset_id"`
	ProposedSchema  json.RawMessage       `json:"proposed_schema"`
	ChangeType      versioning.ChangeType `json:"change_type"`
	BreakingChanges json.RawMessage       `json:"breaking_changes"`
	Status          ProposalStatus        `json:"status"`
	ProposedBy      string                `json:"proposed_by"`
	ProposedAt      time.Time             `json:"proposed_at"`
	ResolvedAt      *time.Time            `json:"resolved_at,omitempty"`
	ExpiresAt       *time.Time            `json:"expires_at,omitempty"`
	AutoExpire      bool                  `json:"auto_expire"`
}

// Validate checks proposal invariants before persistence.
func (p *Proposal) Validate() error {
	if p.AssetID == "" || p.ProposedBy == "" {
		return fmt.Errorf("%w: asset_id and proposed_by are required", ErrValidation)
	}
	if len(p.ProposedSchema) == 0 {
		return fmt.Errorf("%w: proposed_schema is required", ErrInvalidSchema)
	}
	if !p.ChangeType.Valid() {
		return fmt.Errorf("%w: unknown change type %q", ErrValidation, p.ChangeType)
	}
	switch p.Status {
	case ProposalPending, ProposalApproved, ProposalRejected, ProposalWithdrawn, ProposalExpired:
	default:
		return fmt.Errorf("%w: unknown proposal status %q", ErrValidation, p.Status)
	}
	if p.Status.Terminal() && p.ResolvedAt == nil {
		return fmt.Errorf("%w: terminal proposal must carry resolved_at", ErrValidation)
	}
	return nil
}

// AckResponse is a consumer team's answer to a proposal.
type AckResponse string

const (
	AckApproved  AckResponse = "approved"
	AckBlocked   AckResponse = "blocked"
	AckMigrating AckResponse = "migrating"
)

// Acknowledgment records one consumer team's response to a proposal.
// Unique on (proposal_id, consumer_team_id).
type Acknowledgment struct {
	ID                string      `json:"id"`
	ProposalID        string      `json:"proposal_id"`
	ConsumerTeamID    string      `json:"consumer_team_id"`
	Response          AckResponse `json:"response"`
	MigrationDeadline *time.Time  `json:"migration_deadline,omitempty"`
	Notes             string      `json:"notes,omitempty"`
	RespondedAt       time.Time   `json:"responded_at"`
}

// Validate checks acknowledgment invariants before persistence.
func (a *Acknowledgment) Validate() error {
	if a.ProposalID == "" || a.ConsumerTeamID == "" {
		return fmt.Errorf("%w: proposal_id and consumer_team_id are required", ErrValidation)
	}
	switch a.Response {
	case AckApproved, AckBlocked, AckMigrating:
	default:
		return fmt.Errorf("%w: unknown response %q", ErrValidation, a.Response)
	}
	return nil
}
