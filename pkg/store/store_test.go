package store_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/store"
	"github.com/tesserahq/tessera/pkg/versioning"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := store.New(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func newTeam(name string) *contracts.Team {
	return &contracts.Team{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

func newAsset(fqn, teamID string) *contracts.Asset {
	return &contracts.Asset{
		ID:            uuid.New().String(),
		FQN:           fqn,
		OwnerTeamID:   teamID,
		Environment:   "production",
		ResourceType:  contracts.ResourceTable,
		GuaranteeMode: contracts.GuaranteeNotify,
		CreatedAt:     time.Now().UTC(),
	}
}

func newContract(assetID, teamID, version string) *contracts.Contract {
	return &contracts.Contract{
		ID:                uuid.New().String(),
		AssetID:           assetID,
		Version:           version,
		SchemaDef:         json.RawMessage(`{"type":"object"}`),
		CompatibilityMode: schema.CompatBackward,
		Status:            contracts.ContractActive,
		PublishedAt:       time.Now().UTC(),
		PublishedBy:       teamID,
	}
}

func TestTeamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := newTeam("analytics")
	team.Metadata = map[string]any{"tier": "gold"}

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateTeam(ctx, team)
	}))

	err := s.View(ctx, func(tx *store.Tx) error {
		got, err := tx.GetTeam(ctx, team.ID)
		require.NoError(t, err)
		assert.Equal(t, "analytics", got.Name)
		assert.Equal(t, "gold", got.Metadata["tier"])

		byName, err := tx.GetTeamByName(ctx, "analytics")
		require.NoError(t, err)
		assert.Equal(t, team.ID, byName.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestTeamDuplicateNameConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateTeam(ctx, newTeam("ml-team"))
	}))
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateTeam(ctx, newTeam("ml-team"))
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)
}

func TestSoftDeletedTeamInvisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := newTeam("retired")

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			return err
		}
		return tx.SoftDeleteTeam(ctx, team.ID, sql.NullTime{Time: time.Now().UTC(), Valid: true})
	}))

	err := s.View(ctx, func(tx *store.Tx) error {
		_, err := tx.GetTeam(ctx, team.ID)
		return err
	})
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestOneActiveContractPerAsset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := newTeam("producers")
	asset := newAsset("warehouse.analytics.dim_customers", team.ID)

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			return err
		}
		if err := tx.CreateAsset(ctx, asset); err != nil {
			return err
		}
		return tx.InsertContract(ctx, newContract(asset.ID, team.ID, "1.0.0"))
	}))

	// A second active contract trips the partial unique index.
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertContract(ctx, newContract(asset.ID, team.ID, "1.1.0"))
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)

	// Deprecate-then-insert inside one transaction succeeds.
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		active, err := tx.ActiveContract(ctx, asset.ID)
		if err != nil {
			return err
		}
		if err := tx.DeprecateContract(ctx, active.ID); err != nil {
			return err
		}
		return tx.InsertContract(ctx, newContract(asset.ID, team.ID, "1.1.0"))
	}))

	err = s.View(ctx, func(tx *store.Tx) error {
		active, err := tx.ActiveContract(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", active.Version)

		history, err := tx.ContractHistory(ctx, asset.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestRegistrationUniquePerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := &contracts.Registration{
		ID:             uuid.New().String(),
		ContractID:     "contract-1",
		ConsumerTeamID: "team-1",
		Status:         contracts.RegistrationActive,
		RegisteredAt:   time.Now().UTC(),
	}

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateRegistration(ctx, reg)
	}))

	dupe := *reg
	dupe.ID = uuid.New().String()
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateRegistration(ctx, &dupe)
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)
}

func TestProposalResolveIsSingleShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	proposal := &contracts.Proposal{
		ID:              uuid.New().String(),
		AssetID:         "asset-1",
		ProposedSchema:  json.RawMessage(`{"type":"object"}`),
		ChangeType:      versioning.ChangeMajor,
		BreakingChanges: json.RawMessage(`[]`),
		Status:          contracts.ProposalPending,
		ProposedBy:      "team-1",
		ProposedAt:      time.Now().UTC(),
	}

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateProposal(ctx, proposal)
	}))

	now := time.Now().UTC()
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.ResolveProposal(ctx, proposal.ID, contracts.ProposalWithdrawn, now)
	}))

	// The second terminal transition finds no pending row.
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.ResolveProposal(ctx, proposal.ID, contracts.ProposalApproved, now)
	})
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	err = s.View(ctx, func(tx *store.Tx) error {
		got, err := tx.GetProposal(ctx, proposal.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.ProposalWithdrawn, got.Status)
		require.NotNil(t, got.ResolvedAt)
		assert.False(t, got.ResolvedAt.Before(got.ProposedAt.Truncate(time.Second)))
		return nil
	})
	require.NoError(t, err)
}

func TestAcknowledgmentUniquePerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ack := &contracts.Acknowledgment{
		ID:             uuid.New().String(),
		ProposalID:     "proposal-1",
		ConsumerTeamID: "team-1",
		Response:       contracts.AckApproved,
		RespondedAt:    time.Now().UTC(),
	}

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateAcknowledgment(ctx, ack)
	}))

	dupe := *ack
	dupe.ID = uuid.New().String()
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateAcknowledgment(ctx, &dupe)
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)
}

func TestDependencyPairUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dep := &contracts.AssetDependency{
		ID:                uuid.New().String(),
		DependentAssetID:  "b",
		DependencyAssetID: "a",
		DependencyType:    contracts.DependencyConsumes,
		CreatedAt:         time.Now().UTC(),
	}

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateDependency(ctx, dep)
	}))

	dupe := *dep
	dupe.ID = uuid.New().String()
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateDependency(ctx, &dupe)
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)

	err = s.View(ctx, func(tx *store.Tx) error {
		dependents, err := tx.ListDependents(ctx, "a")
		require.NoError(t, err)
		require.Len(t, dependents, 1)
		assert.Equal(t, "b", dependents[0].DependentAssetID)

		upstream, err := tx.ListDependencies(ctx, "b")
		require.NoError(t, err)
		require.Len(t, upstream, 1)
		assert.Equal(t, "a", upstream[0].DependencyAssetID)
		return nil
	})
	require.NoError(t, err)
}

func TestRolledBackTxLeavesNoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := newTeam("ghost")

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			return err
		}
		if err := tx.AppendAuditEvent(ctx, &contracts.AuditEvent{
			ID:         uuid.New().String(),
			EntityType: "team",
			EntityID:   team.ID,
			Action:     contracts.ActionTeamCreated,
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	err = s.View(ctx, func(tx *store.Tx) error {
		_, err := tx.GetTeam(ctx, team.ID)
		assert.ErrorIs(t, err, contracts.ErrNotFound)

		count, err := tx.CountAuditEvents(ctx)
		require.NoError(t, err)
		assert.Zero(t, count, "audit rows never outlive a rolled-back mutation")
		return nil
	})
	require.NoError(t, err)
}
