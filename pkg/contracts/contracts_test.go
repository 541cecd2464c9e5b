package contracts_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/versioning"
)

func TestValidateFQN(t *testing.T) {
	valid := []string{
		"warehouse.analytics.dim_customers",
		"a.b",
		"_private.table_1",
	}
	for _, fqn := range valid {
		assert.NoError(t, contracts.ValidateFQN(fqn), fqn)
	}

	invalid := []string{
		"",
		"single_segment",
		"1starts.with_digit",
		"has.trailing.",
		".leading.dot",
		"bad-chars.in.segment!",
	}
	for _, fqn := range invalid {
		assert.Error(t, contracts.ValidateFQN(fqn), fqn)
	}
}

func TestAssetValidate_Defaults(t *testing.T) {
	asset := &contracts.Asset{FQN: "warehouse.orders", OwnerTeamID: "team-1"}
	require.NoError(t, asset.Validate())
	assert.Equal(t, "production", asset.Environment)
	assert.Equal(t, contracts.GuaranteeNotify, asset.GuaranteeMode)
}

func TestDependencyValidate_SelfLoop(t *testing.T) {
	dep := &contracts.AssetDependency{DependentAssetID: "a", DependencyAssetID: "a"}
	err := dep.Validate()
	assert.ErrorIs(t, err, contracts.ErrSelfDependency)
}

func TestContractValidate_RequiresVersion(t *testing.T) {
	c := &contracts.Contract{
		AssetID:           "asset-1",
		SchemaDef:         json.RawMessage(`{"type":"object"}`),
		CompatibilityMode: schema.CompatBackward,
		Status:            contracts.ContractActive,
	}
	assert.ErrorIs(t, c.Validate(), contracts.ErrInvalidVersion)

	c.Version = "not-semver"
	assert.ErrorIs(t, c.Validate(), contracts.ErrInvalidVersion)

	c.Version = "1.0.0"
	assert.NoError(t, c.Validate())
}

func TestProposalValidate_TerminalNeedsResolvedAt(t *testing.T) {
	p := &contracts.Proposal{
		AssetID:        "asset-1",
		ProposedBy:     "team-1",
		ProposedSchema: json.RawMessage(`{"type":"object"}`),
		ChangeType:     versioning.ChangeMajor,
		Status:         contracts.ProposalWithdrawn,
	}
	assert.Error(t, p.Validate())

	now := time.Now().UTC()
	p.ResolvedAt = &now
	assert.NoError(t, p.Validate())
}

func TestScopeSet_AdminImpliesAll(t *testing.T) {
	admin := contracts.NewScopeSet(contracts.ScopeAdmin)
	assert.True(t, admin.Has(contracts.ScopeRead))
	assert.True(t, admin.Has(contracts.ScopeWrite))
	assert.True(t, admin.Has(contracts.ScopeAdmin))

	read := contracts.NewScopeSet(contracts.ScopeRead)
	assert.True(t, read.Has(contracts.ScopeRead))
	assert.False(t, read.Has(contracts.ScopeWrite))
}

func TestScopesForRole(t *testing.T) {
	assert.True(t, contracts.ScopesForRole(contracts.RoleAdmin).Has(contracts.ScopeAdmin))
	assert.True(t, contracts.ScopesForRole(contracts.RoleTeamAdmin).Has(contracts.ScopeWrite))
	assert.False(t, contracts.ScopesForRole(contracts.RoleTeamAdmin).Has(contracts.ScopeAdmin))
	assert.False(t, contracts.ScopesForRole(contracts.RoleUser).Has(contracts.ScopeWrite))
}

func TestAPIKeyUsable(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	key := &contracts.APIKey{}
	assert.True(t, key.Usable(now))

	key.ExpiresAt = &future
	assert.True(t, key.Usable(now))

	key.ExpiresAt = &past
	assert.False(t, key.Usable(now))

	key.ExpiresAt = nil
	key.RevokedAt = &past
	assert.False(t, key.Usable(now))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, contracts.CodeNotFound, contracts.CodeOf(contracts.ErrNotFound))
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(contracts.ErrConflict))
	assert.Equal(t, contracts.CodeWrongTeam,
		contracts.CodeOf(contracts.NewError(contracts.CodeWrongTeam, "not your asset")))
	assert.Equal(t, contracts.CodeInternal, contracts.CodeOf(assert.AnError))
}
