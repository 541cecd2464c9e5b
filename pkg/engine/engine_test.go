package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/engine"
	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/store"
	"github.com/tesserahq/tessera/pkg/versioning"
	_ "modernc.org/sqlite"
)

const baseSchema = `{
	"type": "object",
	"properties": {
		"customer_id": {"type": "integer"},
		"email": {"type": "string"}
	},
	"required": ["customer_id", "email"]
}`

const addedTierSchema = `{
	"type": "object",
	"properties": {
		"customer_id": {"type": "integer"},
		"email": {"type": "string"},
		"loyalty_tier": {"type": "string", "enum": ["bronze", "silver", "gold"]}
	},
	"required": ["customer_id", "email"]
}`

const droppedEmailSchema = `{
	"type": "object",
	"properties": {
		"customer_id": {"type": "integer"}
	},
	"required": ["customer_id"]
}`

type fixture struct {
	store  *store.Store
	engine *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := store.New(db)
	require.NoError(t, s.Init(context.Background()))

	rec := audit.NewRecorder(auth.ActorID, nil)
	eng := engine.New(s, rec, nil, nil, engine.Config{
		WebhookURL: "https://hooks.example.com/tessera",
	})
	return &fixture{store: s, engine: eng}
}

func ctxFor(teamID string, scopes ...contracts.Scope) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{
		ActorID: "key-" + teamID,
		TeamID:  teamID,
		Kind:    auth.KindAPIKey,
		Scopes:  contracts.NewScopeSet(scopes...),
	})
}

func (f *fixture) team(t *testing.T, name string) *contracts.Team {
	t.Helper()
	team := &contracts.Team{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateTeam(context.Background(), team)
	}))
	return team
}

func (f *fixture) asset(t *testing.T, fqn, teamID string) *contracts.Asset {
	t.Helper()
	asset, err := f.engine.CreateAsset(ctxFor(teamID, contracts.ScopeWrite), &contracts.Asset{
		FQN:          fqn,
		OwnerTeamID:  teamID,
		ResourceType: contracts.ResourceTable,
	})
	require.NoError(t, err)
	return asset
}

func (f *fixture) publish(t *testing.T, teamID string, req engine.PublishRequest) *engine.PublishResult {
	t.Helper()
	res, err := f.engine.Publish(ctxFor(teamID, contracts.ScopeWrite), req)
	require.NoError(t, err)
	return res
}

func (f *fixture) auditActions(t *testing.T, action contracts.AuditAction) []*contracts.AuditEvent {
	t.Helper()
	var events []*contracts.AuditEvent
	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		events, _, err = tx.QueryAuditEvents(context.Background(), store.AuditFilter{Action: string(action)})
		return err
	}))
	return events
}

func (f *fixture) pendingWebhooks(t *testing.T) []*contracts.WebhookDelivery {
	t.Helper()
	pending, err := f.store.PendingWebhooks(context.Background(), 100)
	require.NoError(t, err)
	return pending
}

func TestFirstPublishStartsAtInitialVersion(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)

	res := f.publish(t, team.ID, engine.PublishRequest{
		AssetID:     asset.ID,
		PublishedBy: team.ID,
		SchemaDef:   json.RawMessage(baseSchema),
	})

	assert.Equal(t, engine.ActionPublished, res.Action)
	require.NotNil(t, res.Contract)
	assert.Equal(t, "1.0.0", res.Contract.Version)
	assert.Equal(t, contracts.ContractActive, res.Contract.Status)
	assert.Len(t, f.auditActions(t, contracts.ActionContractPublished), 1)
	assert.Len(t, f.pendingWebhooks(t), 1)
}

// Compatible addition of an optional enum property: minor bump, old
// contract deprecated.
func TestCompatibleAddPublishes(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	first := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	res := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(addedTierSchema),
	})

	assert.Equal(t, engine.ActionPublished, res.Action)
	assert.Equal(t, versioning.ChangeMinor, res.ChangeType)
	assert.Equal(t, "1.1.0", res.Contract.Version)
	assert.Empty(t, res.BreakingChanges)

	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		old, err := tx.GetContract(context.Background(), first.Contract.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.ContractDeprecated, old.Status)

		active, err := tx.ActiveContract(context.Background(), asset.ID)
		require.NoError(t, err)
		assert.Equal(t, res.Contract.ID, active.ID)
		return nil
	}))
}

// Superseding a contract leaves a deprecation record on the
// predecessor alongside the successor's published record.
func TestSupersedeRecordsDeprecation(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	first := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	second := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(addedTierSchema),
	})

	events := f.auditActions(t, contracts.ActionContractDeprecated)
	require.Len(t, events, 1)
	assert.Equal(t, "contract", events[0].EntityType)
	assert.Equal(t, first.Contract.ID, events[0].EntityID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, second.Contract.ID, payload["superseded_by"])
	assert.Equal(t, second.Contract.Version, payload["superseded_by_version"])
}

// A breaking removal parks as a pending proposal; the active contract
// stays untouched.
func TestBreakingRemovalCreatesProposal(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	first := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	res := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(droppedEmailSchema),
	})

	assert.Equal(t, engine.ActionProposalCreated, res.Action)
	assert.Equal(t, versioning.ChangeMajor, res.ChangeType)
	require.NotNil(t, res.Proposal)
	assert.Equal(t, contracts.ProposalPending, res.Proposal.Status)
	require.NotNil(t, res.Proposal.ExpiresAt, "default expiry is stamped")

	paths := make([]string, 0, len(res.BreakingChanges))
	for _, c := range res.BreakingChanges {
		paths = append(paths, string(c.Kind)+" "+c.Path)
	}
	assert.Contains(t, paths, "property_removed /properties/email")

	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		active, err := tx.ActiveContract(context.Background(), asset.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Contract.ID, active.ID, "predecessor still active")
		return nil
	}))
	assert.Len(t, f.auditActions(t, contracts.ActionProposalCreated), 1)
}

func TestForcePublishDeprecatesDespiteBreaking(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	first := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	res := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID,
		SchemaDef: json.RawMessage(droppedEmailSchema), Force: true,
	})

	assert.Equal(t, engine.ActionForcePublished, res.Action)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, "2.0.0", res.Contract.Version, "major auto-bump")

	events := f.auditActions(t, contracts.ActionContractForced)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.NotEmpty(t, payload["breaking_changes"])

	require.NoError(t, f.store.View(context.Background(), func(tx *store.Tx) error {
		old, err := tx.GetContract(context.Background(), first.Contract.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.ContractDeprecated, old.Status)
		return nil
	}))
}

func TestSuppliedVersionMustBeGreater(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID,
		Version: "1.2.0", SchemaDef: json.RawMessage(baseSchema),
	})

	for _, version := range []string{"1.2.0", "1.1.9", "0.9.0"} {
		_, err := f.engine.Publish(ctxFor(team.ID, contracts.ScopeWrite), engine.PublishRequest{
			AssetID: asset.ID, PublishedBy: team.ID,
			Version: version, SchemaDef: json.RawMessage(addedTierSchema),
		})
		assert.Equal(t, contracts.CodeInvalidVersion, contracts.CodeOf(err), "version %s", version)
	}
}

func TestIdenticalSchemaAutoBumpsPatch(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)
	f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	res := f.publish(t, team.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	assert.Equal(t, engine.ActionPublished, res.Action)
	assert.Equal(t, versioning.ChangePatch, res.ChangeType)
	assert.Equal(t, "1.0.1", res.Contract.Version)
}

func TestPublishRejectsMalformedSchema(t *testing.T) {
	f := newFixture(t)
	team := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", team.ID)

	_, err := f.engine.Publish(ctxFor(team.ID, contracts.ScopeWrite), engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: team.ID, SchemaDef: json.RawMessage(`["not","an","object"]`),
	})
	assert.Equal(t, contracts.CodeInvalidSchema, contracts.CodeOf(err))
}

// Ownership: a write-scoped key from another team cannot publish, and
// the failed attempt leaves no audit trace.
func TestPublishRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	owner := f.team(t, "beta")
	intruder := f.team(t, "alpha")
	asset := f.asset(t, "warehouse.analytics.dim_customers", owner.ID)

	before := len(f.auditActions(t, contracts.ActionContractPublished))
	_, err := f.engine.Publish(ctxFor(intruder.ID, contracts.ScopeWrite), engine.PublishRequest{
		AssetID: asset.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	assert.Equal(t, contracts.CodeWrongTeam, contracts.CodeOf(err))
	assert.Len(t, f.auditActions(t, contracts.ActionContractPublished), before)
}

// Acknowledge then withdraw: the proposal resolves as withdrawn and
// the acknowledgment row survives.
func TestAcknowledgeThenWithdraw(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	consumer := f.team(t, "ml-team")
	asset := f.asset(t, "warehouse.analytics.dim_customers", producer.ID)
	f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	res := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(droppedEmailSchema),
	})
	proposalID := res.Proposal.ID

	ack, err := f.engine.Acknowledge(ctxFor(consumer.ID, contracts.ScopeWrite), engine.AcknowledgeRequest{
		ProposalID:     proposalID,
		ConsumerTeamID: consumer.ID,
		Response:       contracts.AckApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.AckApproved, ack.Response)

	withdrawn, err := f.engine.Withdraw(ctxFor(producer.ID, contracts.ScopeWrite), proposalID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.ResolvedAt)
	assert.False(t, withdrawn.ResolvedAt.Before(withdrawn.ProposedAt))

	proposal, acks, err := f.engine.GetProposal(context.Background(), proposalID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalWithdrawn, proposal.Status)
	assert.Len(t, acks, 1, "acknowledgment preserved after withdrawal")
}

func TestAcknowledgeBoundaries(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	consumer := f.team(t, "ml-team")
	outsider := f.team(t, "outsiders")
	asset := f.asset(t, "warehouse.analytics.dim_customers", producer.ID)
	f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	res := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(droppedEmailSchema),
	})

	// Another team cannot answer on the consumer's behalf.
	_, err := f.engine.Acknowledge(ctxFor(outsider.ID, contracts.ScopeWrite), engine.AcknowledgeRequest{
		ProposalID: res.Proposal.ID, ConsumerTeamID: consumer.ID, Response: contracts.AckApproved,
	})
	assert.Equal(t, contracts.CodeWrongTeam, contracts.CodeOf(err))

	// One response per (proposal, team).
	ctx := ctxFor(consumer.ID, contracts.ScopeWrite)
	_, err = f.engine.Acknowledge(ctx, engine.AcknowledgeRequest{
		ProposalID: res.Proposal.ID, ConsumerTeamID: consumer.ID, Response: contracts.AckApproved,
	})
	require.NoError(t, err)
	_, err = f.engine.Acknowledge(ctx, engine.AcknowledgeRequest{
		ProposalID: res.Proposal.ID, ConsumerTeamID: consumer.ID, Response: contracts.AckBlocked,
	})
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))

	// Withdrawal is reserved to the proposing team.
	_, err = f.engine.Withdraw(ctxFor(outsider.ID, contracts.ScopeWrite), res.Proposal.ID)
	assert.Equal(t, contracts.CodeWrongTeam, contracts.CodeOf(err))
}

func TestForceApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	asset := f.asset(t, "warehouse.analytics.dim_customers", producer.ID)
	f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	res := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(droppedEmailSchema),
	})

	_, err := f.engine.ForceApprove(ctxFor(producer.ID, contracts.ScopeWrite), res.Proposal.ID)
	assert.Equal(t, contracts.CodeNoScope, contracts.CodeOf(err))

	approved, err := f.engine.ForceApprove(ctxFor(producer.ID, contracts.ScopeAdmin), res.Proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalApproved, approved.Status)

	// Terminal proposals cannot transition again.
	_, err = f.engine.Withdraw(ctxFor(producer.ID, contracts.ScopeWrite), res.Proposal.ID)
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))
}

func TestExpireSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	mkProposal := func(expires *time.Time, autoExpire bool) string {
		id := uuid.New().String()
		require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.CreateProposal(ctx, &contracts.Proposal{
				ID:              id,
				AssetID:         "asset-" + id[:8],
				ProposedSchema:  json.RawMessage(`{"type":"object"}`),
				ChangeType:      versioning.ChangeMajor,
				BreakingChanges: json.RawMessage(`[]`),
				Status:          contracts.ProposalPending,
				ProposedBy:      "team-1",
				ProposedAt:      past,
				ExpiresAt:       expires,
				AutoExpire:      autoExpire,
			})
		}))
		return id
	}

	overdue := mkProposal(&past, false)
	fresh := mkProposal(&future, false)
	allMigrated := mkProposal(&future, true)
	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateAcknowledgment(ctx, &contracts.Acknowledgment{
			ID:                uuid.New().String(),
			ProposalID:        allMigrated,
			ConsumerTeamID:    "team-2",
			Response:          contracts.AckMigrating,
			MigrationDeadline: &past,
			RespondedAt:       past,
		})
	}))

	expired, err := f.engine.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{overdue, allMigrated}, expired)

	require.NoError(t, f.store.View(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProposal(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, contracts.ProposalPending, p.Status)
		return nil
	}))
	assert.Len(t, f.auditActions(t, contracts.ActionProposalExpired), 2)
}

// Impact across two hops: consumers surface at the level of the asset
// they register on; downstream assets exclude the root.
func TestImpactTwoHops(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	t1 := f.team(t, "t1")
	t2 := f.team(t, "t2")

	a := f.asset(t, "warehouse.core.a", producer.ID)
	b := f.asset(t, "warehouse.core.b", producer.ID)
	c := f.asset(t, "warehouse.core.c", producer.ID)

	resA := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: a.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	resB := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: b.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	ownerCtx := ctxFor(producer.ID, contracts.ScopeWrite)
	_, err := f.engine.AddDependency(ownerCtx, b.ID, a.ID, contracts.DependencyConsumes)
	require.NoError(t, err)
	_, err = f.engine.AddDependency(ownerCtx, c.ID, b.ID, contracts.DependencyConsumes)
	require.NoError(t, err)

	_, err = f.engine.Register(ctxFor(t1.ID, contracts.ScopeWrite), resA.Contract.ID, t1.ID, "")
	require.NoError(t, err)
	_, err = f.engine.Register(ctxFor(t2.ID, contracts.ScopeWrite), resB.Contract.ID, t2.ID, "")
	require.NoError(t, err)

	report, err := f.engine.Impact(context.Background(), a.ID, json.RawMessage(droppedEmailSchema), 3)
	require.NoError(t, err)

	assert.False(t, report.SafeToPublish)
	assert.Equal(t, versioning.ChangeMajor, report.ChangeType)
	assert.Equal(t, 3, report.TraversalDepth)

	consumers := map[string]int{}
	for _, impacted := range report.ImpactedConsumers {
		consumers[impacted.TeamID] = impacted.Level
	}
	assert.Equal(t, map[string]int{t1.ID: 1, t2.ID: 2}, consumers)

	assets := map[string]int{}
	for _, impacted := range report.ImpactedAssets {
		assets[impacted.FQN] = impacted.Level
	}
	assert.Equal(t, map[string]int{"warehouse.core.b": 2, "warehouse.core.c": 3}, assets)
}

func TestImpactDepthBoundsTraversal(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	a := f.asset(t, "warehouse.core.a", producer.ID)
	b := f.asset(t, "warehouse.core.b", producer.ID)
	c := f.asset(t, "warehouse.core.c", producer.ID)

	f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: a.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	ownerCtx := ctxFor(producer.ID, contracts.ScopeWrite)
	_, err := f.engine.AddDependency(ownerCtx, b.ID, a.ID, contracts.DependencyConsumes)
	require.NoError(t, err)
	_, err = f.engine.AddDependency(ownerCtx, c.ID, b.ID, contracts.DependencyConsumes)
	require.NoError(t, err)

	shallow, err := f.engine.Impact(context.Background(), a.ID, json.RawMessage(droppedEmailSchema), 2)
	require.NoError(t, err)
	assert.Len(t, shallow.ImpactedAssets, 1, "depth 2 stops before the second hop")

	deep, err := f.engine.Impact(context.Background(), a.ID, json.RawMessage(droppedEmailSchema), 3)
	require.NoError(t, err)
	assert.Len(t, deep.ImpactedAssets, 2)
}

func TestImpactWithoutActiveContract(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	asset := f.asset(t, "warehouse.core.untouched", producer.ID)

	report, err := f.engine.Impact(context.Background(), asset.ID, json.RawMessage(baseSchema), 0)
	require.NoError(t, err)
	assert.True(t, report.SafeToPublish)
	assert.Equal(t, versioning.ChangeMinor, report.ChangeType)
	assert.Empty(t, report.BreakingChanges)
}

func TestImpactToleratesDependencyCycles(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	a := f.asset(t, "warehouse.core.a", producer.ID)
	b := f.asset(t, "warehouse.core.b", producer.ID)

	f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: a.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	ownerCtx := ctxFor(producer.ID, contracts.ScopeWrite)
	_, err := f.engine.AddDependency(ownerCtx, b.ID, a.ID, contracts.DependencyConsumes)
	require.NoError(t, err)
	_, err = f.engine.AddDependency(ownerCtx, a.ID, b.ID, contracts.DependencyConsumes)
	require.NoError(t, err)

	report, err := f.engine.Impact(context.Background(), a.ID, json.RawMessage(droppedEmailSchema), 10)
	require.NoError(t, err)
	assert.Len(t, report.ImpactedAssets, 1, "cycle visits each asset once")
}

func TestLineageBothDirections(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	a := f.asset(t, "warehouse.core.a", producer.ID)
	b := f.asset(t, "warehouse.core.b", producer.ID)
	c := f.asset(t, "warehouse.core.c", producer.ID)

	ownerCtx := ctxFor(producer.ID, contracts.ScopeWrite)
	_, err := f.engine.AddDependency(ownerCtx, b.ID, a.ID, contracts.DependencyConsumes)
	require.NoError(t, err)
	_, err = f.engine.AddDependency(ownerCtx, c.ID, b.ID, contracts.DependencyTransforms)
	require.NoError(t, err)

	lineage, err := f.engine.AssetLineage(context.Background(), b.ID, 5)
	require.NoError(t, err)
	require.Len(t, lineage.Upstream, 1)
	assert.Equal(t, "warehouse.core.a", lineage.Upstream[0].FQN)
	require.Len(t, lineage.Downstream, 1)
	assert.Equal(t, "warehouse.core.c", lineage.Downstream[0].FQN)

	// No edges means empty lists, not an error.
	isolated := f.asset(t, "warehouse.core.island", producer.ID)
	lineage, err = f.engine.AssetLineage(context.Background(), isolated.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, lineage.Upstream)
	assert.Empty(t, lineage.Downstream)
}

func TestSelfDependencyRejected(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	a := f.asset(t, "warehouse.core.a", producer.ID)

	_, err := f.engine.AddDependency(ctxFor(producer.ID, contracts.ScopeWrite), a.ID, a.ID, contracts.DependencyConsumes)
	assert.Equal(t, contracts.CodeSelfDependency, contracts.CodeOf(err))
}

func TestCompareClassifiesByMode(t *testing.T) {
	f := newFixture(t)
	diff, cls, err := f.engine.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(addedTierSchema), "backward")
	require.NoError(t, err)
	assert.Equal(t, versioning.ChangeMinor, diff.ChangeType)
	assert.True(t, cls.Compatible)

	_, cls, err = f.engine.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(droppedEmailSchema), "none")
	require.NoError(t, err)
	assert.True(t, cls.Compatible, "mode none never breaks")

	var kinds []schema.ChangeKind
	diff, cls, err = f.engine.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(droppedEmailSchema), "backward")
	require.NoError(t, err)
	for _, c := range cls.BreakingChanges {
		kinds = append(kinds, c.Kind)
	}
	assert.Contains(t, kinds, schema.PropertyRemoved)
	assert.False(t, cls.Compatible)
	assert.Equal(t, versioning.ChangeMajor, diff.ChangeType)
}

func TestSearchAcrossTypes(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "analytics-producers")
	f.asset(t, "warehouse.analytics.dim_customers", producer.ID)

	results, err := f.engine.Search(context.Background(), "analytics", nil)
	require.NoError(t, err)
	assert.Len(t, results.Assets, 1)
	assert.Len(t, results.Teams, 1)

	results, err = f.engine.Search(context.Background(), "analytics", []string{"teams"})
	require.NoError(t, err)
	assert.Empty(t, results.Assets)
	assert.Len(t, results.Teams, 1)

	_, err = f.engine.Search(context.Background(), "   ", nil)
	assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
}

func TestRegisterBoundaries(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	consumer := f.team(t, "ml-team")
	asset := f.asset(t, "warehouse.core.a", producer.ID)
	res := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})

	// Registering for another team requires admin.
	_, err := f.engine.Register(ctxFor(producer.ID, contracts.ScopeWrite), res.Contract.ID, consumer.ID, "")
	assert.Equal(t, contracts.CodeWrongTeam, contracts.CodeOf(err))

	reg, err := f.engine.Register(ctxFor(consumer.ID, contracts.ScopeWrite), res.Contract.ID, consumer.ID, "")
	require.NoError(t, err)

	_, err = f.engine.Register(ctxFor(consumer.ID, contracts.ScopeWrite), res.Contract.ID, consumer.ID, "")
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))

	require.NoError(t, f.engine.Unregister(ctxFor(consumer.ID, contracts.ScopeWrite), reg.ID))
	err = f.engine.Unregister(ctxFor(consumer.ID, contracts.ScopeWrite), reg.ID)
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(err))
}

func TestUpdateRegistrationStatus(t *testing.T) {
	f := newFixture(t)
	producer := f.team(t, "producers")
	consumer := f.team(t, "ml-team")
	asset := f.asset(t, "warehouse.core.a", producer.ID)
	res := f.publish(t, producer.ID, engine.PublishRequest{
		AssetID: asset.ID, PublishedBy: producer.ID, SchemaDef: json.RawMessage(baseSchema),
	})
	reg, err := f.engine.Register(ctxFor(consumer.ID, contracts.ScopeWrite), res.Contract.ID, consumer.ID, "")
	require.NoError(t, err)
	require.Nil(t, reg.AcknowledgedAt)

	updated, err := f.engine.UpdateRegistration(ctxFor(consumer.ID, contracts.ScopeWrite),
		reg.ID, contracts.RegistrationMigrating, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, contracts.RegistrationMigrating, updated.Status)
	assert.Equal(t, "1.0.0", updated.PinnedVersion)
	assert.NotNil(t, updated.AcknowledgedAt)

	// Other teams cannot touch the registration.
	_, err = f.engine.UpdateRegistration(ctxFor(producer.ID, contracts.ScopeWrite),
		reg.ID, contracts.RegistrationInactive, "")
	assert.Equal(t, contracts.CodeWrongTeam, contracts.CodeOf(err))

	events := f.auditActions(t, contracts.ActionRegistrationUpdated)
	require.Len(t, events, 1)
}

func TestCreateTeamDuplicateName(t *testing.T) {
	f := newFixture(t)
	adminCtx := ctxFor("ops", contracts.ScopeAdmin)
	_, err := f.engine.CreateTeam(adminCtx, "producers", nil)
	require.NoError(t, err)
	_, err = f.engine.CreateTeam(adminCtx, "producers", nil)
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))
}
