package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/store"
	"github.com/tesserahq/tessera/pkg/versioning"
)

// Publication outcomes.
const (
	ActionPublished       = "published"
	ActionProposalCreated = "proposal_created"
	ActionForcePublished  = "force_published"
)

// PublishRequest is one attempt to evolve an asset's contract.
type PublishRequest struct {
	AssetID           string                `json:"-"`
	PublishedBy       string                `json:"published_by,omitempty"`
	Version           string                `json:"version,omitempty"`
	SchemaDef         json.RawMessage       `json:"schema_def"`
	CompatibilityMode string                `json:"compatibility_mode,omitempty"`
	Guarantees        *contracts.Guarantees `json:"guarantees,omitempty"`
	AutoExpire        bool                  `json:"auto_expire,omitempty"`
	Force             bool                  `json:"-"`
}

// PublishResult reports what the state machine decided.
type PublishResult struct {
	Action          string                `json:"action"`
	Contract        *contracts.Contract   `json:"contract,omitempty"`
	Proposal        *contracts.Proposal   `json:"proposal,omitempty"`
	ChangeType      versioning.ChangeType `json:"change_type"`
	BreakingChanges []schema.ChangeRecord `json:"breaking_changes,omitempty"`
	Warning         string                `json:"warning,omitempty"`
}

// Publish runs the publication state machine: first publish goes
// straight to active, a compatible successor deprecates its
// predecessor, a breaking one becomes a pending proposal unless forced.
// Everything happens in one transaction; the partial unique index on
// active contracts backstops concurrent publishes.
func (e *Engine) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	doc, err := schema.ParseDocument(req.SchemaDef)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeInvalidSchema, err)
	}
	if err := doc.ValidateShape(); err != nil {
		return nil, contracts.WrapError(contracts.CodeInvalidSchema, err)
	}
	mode, err := schema.ModeFor(req.CompatibilityMode)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeValidation, err)
	}
	if req.PublishedBy == "" {
		req.PublishedBy = auth.TeamID(ctx)
	}

	var result *PublishResult
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		asset, err := tx.GetAsset(ctx, req.AssetID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", req.AssetID)
			}
			return err
		}
		if p, perr := auth.GetPrincipal(ctx); perr == nil && !p.OwnsTeam(asset.OwnerTeamID) {
			return contracts.NewError(contracts.CodeWrongTeam, "asset %s is owned by another team", asset.FQN)
		}

		predecessor, err := tx.ActiveContract(ctx, req.AssetID)
		if err != nil {
			if contracts.CodeOf(err) != contracts.CodeNotFound {
				return err
			}
			result, err = e.firstPublish(ctx, tx, req, mode, doc)
			return err
		}
		result, err = e.publishSuccessor(ctx, tx, req, mode, doc, predecessor)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Action != ActionProposalCreated {
		e.invalidateContractCaches(ctx, req.AssetID)
	}
	e.logger.Info("publish decided",
		"asset_id", req.AssetID,
		"action", result.Action,
		"change_type", result.ChangeType,
	)
	return result, nil
}

// firstPublish inserts the initial active contract. Without a
// predecessor there is nothing to diff; omitted versions start at 1.0.0.
func (e *Engine) firstPublish(ctx context.Context, tx *store.Tx, req PublishRequest, mode schema.CompatibilityMode, doc schema.Document) (*PublishResult, error) {
	version := req.Version
	if version == "" {
		version = versioning.Initial
	}
	contract, err := e.insertContract(ctx, tx, req, mode, version)
	if err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, tx, "contract", contract.ID, contracts.ActionContractPublished,
		map[string]any{"asset_id": req.AssetID, "version": version}); err != nil {
		return nil, err
	}
	if err := e.enqueueWebhook(ctx, tx, "contract.published", contract); err != nil {
		return nil, err
	}
	return &PublishResult{
		Action:     ActionPublished,
		Contract:   contract,
		ChangeType: versioning.ChangeMinor,
	}, nil
}

// publishSuccessor diffs against the active predecessor and takes one
// of the three remaining transitions. The predecessor's compatibility
// mode is the policy its consumers signed up for, so it governs the
// breaking decision; the requested mode only applies to the successor.
func (e *Engine) publishSuccessor(ctx context.Context, tx *store.Tx, req PublishRequest, mode schema.CompatibilityMode, doc schema.Document, predecessor *contracts.Contract) (*PublishResult, error) {
	oldDoc, err := predecessor.Schema()
	if err != nil {
		return nil, fmt.Errorf("stored schema for contract %s: %w", predecessor.ID, err)
	}

	diff := e.cachedDiff(ctx, oldDoc, doc)
	cls := schema.Classify(diff, predecessor.CompatibilityMode)

	version := req.Version
	if version == "" {
		version, err = versioning.Bump(predecessor.Version, diff.ChangeType)
		if err != nil {
			return nil, contracts.WrapError(contracts.CodeInvalidVersion, err)
		}
	} else {
		greater, err := versioning.IsGreater(version, predecessor.Version)
		if err != nil {
			return nil, contracts.WrapError(contracts.CodeInvalidVersion, err)
		}
		if !greater {
			return nil, contracts.NewError(contracts.CodeInvalidVersion,
				"version %s must be greater than current %s", version, predecessor.Version)
		}
	}

	if !cls.Compatible && !req.Force {
		return e.createProposal(ctx, tx, req, diff, cls)
	}

	if err := tx.DeprecateContract(ctx, predecessor.ID); err != nil {
		return nil, err
	}
	contract, err := e.insertContract(ctx, tx, req, mode, version)
	if err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, tx, "contract", predecessor.ID, contracts.ActionContractDeprecated,
		map[string]any{"superseded_by": contract.ID, "superseded_by_version": version}); err != nil {
		return nil, err
	}

	result := &PublishResult{
		Action:          ActionPublished,
		Contract:        contract,
		ChangeType:      diff.ChangeType,
		BreakingChanges: cls.BreakingChanges,
	}
	action := contracts.ActionContractPublished
	payload := map[string]any{
		"asset_id":    req.AssetID,
		"version":     version,
		"change_type": diff.ChangeType,
		"supersedes":  predecessor.ID,
	}
	if !cls.Compatible {
		result.Action = ActionForcePublished
		result.Warning = fmt.Sprintf("%d breaking changes published without consumer sign-off", len(cls.BreakingChanges))
		action = contracts.ActionContractForced
		payload["breaking_changes"] = cls.BreakingChanges
	}
	if err := e.recorder.Record(ctx, tx, "contract", contract.ID, action, payload); err != nil {
		return nil, err
	}
	if err := e.enqueueWebhook(ctx, tx, "contract.published", contract); err != nil {
		return nil, err
	}
	return result, nil
}

// createProposal parks a breaking change as pending consumer sign-off.
// The active contract stays untouched.
func (e *Engine) createProposal(ctx context.Context, tx *store.Tx, req PublishRequest, diff schema.SchemaDiff, cls schema.Classification) (*PublishResult, error) {
	breaking, err := json.Marshal(cls.BreakingChanges)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expires := now.AddDate(0, 0, e.cfg.ProposalExpiryDays)
	proposal := &contracts.Proposal{
		ID:              uuid.New().String(),
		AssetID:         req.AssetID,
		ProposedSchema:  req.SchemaDef,
		ChangeType:      diff.ChangeType,
		BreakingChanges: breaking,
		Status:          contracts.ProposalPending,
		ProposedBy:      req.PublishedBy,
		ProposedAt:      now,
		ExpiresAt:       &expires,
		AutoExpire:      req.AutoExpire,
	}
	if err := proposal.Validate(); err != nil {
		return nil, err
	}
	if err := tx.CreateProposal(ctx, proposal); err != nil {
		return nil, err
	}
	if err := e.recorder.Record(ctx, tx, "proposal", proposal.ID, contracts.ActionProposalCreated,
		map[string]any{"asset_id": req.AssetID, "change_type": diff.ChangeType, "breaking_changes": cls.BreakingChanges}); err != nil {
		return nil, err
	}
	if err := e.enqueueWebhook(ctx, tx, "proposal.created", proposal); err != nil {
		return nil, err
	}
	return &PublishResult{
		Action:          ActionProposalCreated,
		Proposal:        proposal,
		ChangeType:      diff.ChangeType,
		BreakingChanges: cls.BreakingChanges,
	}, nil
}

func (e *Engine) insertContract(ctx context.Context, tx *store.Tx, req PublishRequest, mode schema.CompatibilityMode, version string) (*contracts.Contract, error) {
	contract := &contracts.Contract{
		ID:                uuid.New().String(),
		AssetID:           req.AssetID,
		Version:           version,
		SchemaDef:         req.SchemaDef,
		CompatibilityMode: mode,
		Guarantees:        req.Guarantees,
		Status:            contracts.ContractActive,
		PublishedAt:       time.Now().UTC(),
		PublishedBy:       req.PublishedBy,
	}
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	if err := tx.InsertContract(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// cachedDiff memoizes classified diffs on the direction-sensitive pair
// hash. A cache miss or error just recomputes.
func (e *Engine) cachedDiff(ctx context.Context, oldDoc, newDoc schema.Document) schema.SchemaDiff {
	key := ""
	if hash, err := schema.PairHash(oldDoc, newDoc); err == nil {
		key = cache.DiffKey(hash)
		var cached schema.SchemaDiff
		if e.cache.Get(ctx, key, &cached) {
			return cached
		}
	}
	diff := schema.Diff(oldDoc, newDoc)
	if key != "" {
		e.cache.Set(ctx, key, diff, cache.DiffTTL)
	}
	return diff
}

// Compare diffs two raw schema documents and classifies the result
// under the given mode. It never touches the store.
func (e *Engine) Compare(ctx context.Context, oldRaw, newRaw json.RawMessage, modeStr string) (*schema.SchemaDiff, *schema.Classification, error) {
	oldDoc, err := schema.ParseDocument(oldRaw)
	if err != nil {
		return nil, nil, contracts.WrapError(contracts.CodeInvalidSchema, err)
	}
	newDoc, err := schema.ParseDocument(newRaw)
	if err != nil {
		return nil, nil, contracts.WrapError(contracts.CodeInvalidSchema, err)
	}
	mode, err := schema.ModeFor(modeStr)
	if err != nil {
		return nil, nil, contracts.WrapError(contracts.CodeValidation, err)
	}
	diff := e.cachedDiff(ctx, oldDoc, newDoc)
	cls := schema.Classify(diff, mode)
	return &diff, &cls, nil
}
