package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// AcknowledgeRequest is one consumer team's response to a proposal.
type AcknowledgeRequest struct {
	ProposalID        string                `json:"-"`
	ConsumerTeamID    string                `json:"consumer_team_id"`
	Response          contracts.AckResponse `json:"response"`
	MigrationDeadline *time.Time            `json:"migration_deadline,omitempty"`
	Notes             string                `json:"notes,omitempty"`
}

// Acknowledge records a consumer response on a pending proposal. One
// response per (proposal, consumer team); the caller must belong to
// the consumer team or hold admin scope.
func (e *Engine) Acknowledge(ctx context.Context, req AcknowledgeRequest) (*contracts.Acknowledgment, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if !p.OwnsTeam(req.ConsumerTeamID) {
		return nil, contracts.NewError(contracts.CodeWrongTeam, "cannot acknowledge on behalf of another team")
	}

	ack := &contracts.Acknowledgment{
		ID:                uuid.New().String(),
		ProposalID:        req.ProposalID,
		ConsumerTeamID:    req.ConsumerTeamID,
		Response:          req.Response,
		MigrationDeadline: req.MigrationDeadline,
		Notes:             req.Notes,
		RespondedAt:       time.Now().UTC(),
	}
	if err := ack.Validate(); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		proposal, err := e.pendingProposal(ctx, tx, req.ProposalID)
		if err != nil {
			return err
		}
		if err := tx.CreateAcknowledgment(ctx, ack); err != nil {
			if contracts.CodeOf(err) == contracts.CodeDuplicate {
				return contracts.NewError(contracts.CodeDuplicate,
					"team %s already responded to proposal %s", req.ConsumerTeamID, proposal.ID)
			}
			return err
		}
		return e.recorder.Record(ctx, tx, "proposal", proposal.ID, contracts.ActionProposalAcked,
			map[string]any{"consumer_team_id": req.ConsumerTeamID, "response": req.Response})
	})
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// Withdraw resolves a pending proposal as withdrawn. Only the
// proposing team or an admin may withdraw; acknowledgments already
// recorded are preserved.
func (e *Engine) Withdraw(ctx context.Context, proposalID string) (*contracts.Proposal, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}

	return e.resolve(ctx, proposalID, contracts.ProposalWithdrawn, contracts.ActionProposalWithdrawn,
		func(proposal *contracts.Proposal) error {
			if !p.OwnsTeam(proposal.ProposedBy) {
				return contracts.NewError(contracts.CodeWrongTeam, "only the proposing team may withdraw")
			}
			return nil
		})
}

// ForceApprove resolves a pending proposal as approved without waiting
// for consumers. Admin only; the approval is a signal to the producer,
// not an automatic publication.
func (e *Engine) ForceApprove(ctx context.Context, proposalID string) (*contracts.Proposal, error) {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeMissingAPIKey, "authentication required")
	}
	if !p.Can(contracts.ScopeAdmin) {
		return nil, contracts.NewError(contracts.CodeNoScope, "force approval requires admin scope")
	}

	return e.resolve(ctx, proposalID, contracts.ProposalApproved, contracts.ActionProposalForced, nil)
}

// resolve performs the single terminal transition out of pending. The
// guard runs inside the transaction, after the pending check.
func (e *Engine) resolve(ctx context.Context, proposalID string, status contracts.ProposalStatus, action contracts.AuditAction, guard func(*contracts.Proposal) error) (*contracts.Proposal, error) {
	var resolved *contracts.Proposal
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		proposal, err := e.pendingProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(proposal); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.ResolveProposal(ctx, proposalID, status, now); err != nil {
			return err
		}
		if err := e.recorder.Record(ctx, tx, "proposal", proposalID, action,
			map[string]any{"asset_id": proposal.AssetID, "status": status}); err != nil {
			return err
		}
		proposal.Status = status
		proposal.ResolvedAt = &now
		resolved = proposal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (e *Engine) pendingProposal(ctx context.Context, tx *store.Tx, id string) (*contracts.Proposal, error) {
	proposal, err := tx.GetProposal(ctx, id)
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return nil, contracts.NewError(contracts.CodeProposalNotFound, "proposal %s not found", id)
		}
		return nil, err
	}
	if proposal.Status.Terminal() {
		return nil, contracts.NewError(contracts.CodeDuplicate,
			"proposal %s already resolved as %s", id, proposal.Status)
	}
	return proposal, nil
}

// ExpireSweep resolves overdue pending proposals. A proposal expires
// when its expires_at has passed, or when auto_expire is set and every
// recorded acknowledgment carries a migration deadline in the past
// (with at least one acknowledgment present). Returns the expired ids.
func (e *Engine) ExpireSweep(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	var expired []string

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		pending, err := tx.PendingProposals(ctx)
		if err != nil {
			return err
		}
		for _, proposal := range pending {
			due, err := e.expiryDue(ctx, tx, proposal, now)
			if err != nil {
				return err
			}
			if !due {
				continue
			}
			if err := tx.ResolveProposal(ctx, proposal.ID, contracts.ProposalExpired, now); err != nil {
				return err
			}
			if err := e.recorder.Record(ctx, tx, "proposal", proposal.ID, contracts.ActionProposalExpired,
				map[string]any{"asset_id": proposal.AssetID}); err != nil {
				return err
			}
			expired = append(expired, proposal.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		e.logger.Info("proposal expiry sweep", "expired", len(expired))
	}
	return expired, nil
}

func (e *Engine) expiryDue(ctx context.Context, tx *store.Tx, proposal *contracts.Proposal, now time.Time) (bool, error) {
	if proposal.ExpiresAt != nil && proposal.ExpiresAt.Before(now) {
		return true, nil
	}
	if !proposal.AutoExpire {
		return false, nil
	}
	acks, err := tx.Acknowledgments(ctx, proposal.ID)
	if err != nil {
		return false, err
	}
	if len(acks) == 0 {
		return false, nil
	}
	for _, ack := range acks {
		if ack.MigrationDeadline == nil || !ack.MigrationDeadline.Before(now) {
			return false, nil
		}
	}
	return true, nil
}

// GetProposal fetches a proposal with its acknowledgments.
func (e *Engine) GetProposal(ctx context.Context, id string) (*contracts.Proposal, []*contracts.Acknowledgment, error) {
	var proposal *contracts.Proposal
	var acks []*contracts.Acknowledgment
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		proposal, err = tx.GetProposal(ctx, id)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeProposalNotFound, "proposal %s not found", id)
			}
			return err
		}
		acks, err = tx.Acknowledgments(ctx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return proposal, acks, nil
}
