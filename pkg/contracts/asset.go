package contracts

import (
	"fmt"
	"regexp"
	"time"
)

// ResourceType categorizes the underlying data artifact.
type ResourceType string

const (
	ResourceTable   ResourceType = "table"
	ResourceView    ResourceType = "view"
	ResourceAPI     ResourceType = "api_endpoint"
	ResourceStream  ResourceType = "stream"
	ResourceDataset ResourceType = "dataset"
	ResourceFeature ResourceType = "ml_feature"
	ResourceGeneric ResourceType = "other"
)

// GuaranteeMode controls how quality-guarantee violations are handled.
type GuaranteeMode string

const (
	GuaranteeNotify GuaranteeMode = "notify"
	GuaranteeStrict GuaranteeMode = "strict"
	GuaranteeIgnore GuaranteeMode = "ignore"
)

const maxFQNLength = 1000

// fqnPattern: dot-separated segments, each starting with a letter or
// underscore.
var fqnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// Asset is a named data artifact owned by a team. Assets soft-delete.
type Asset struct {
	ID            string         `json:"id"`
	FQN           string         `json:"fqn"`
	OwnerTeamID   string         `json:"owner_team_id"`
	OwnerUserID   string         `json:"owner_user_id,omitempty"`
	Environment   string         `json:"environment"`
	ResourceType  ResourceType   `json:"resource_type"`
	GuaranteeMode GuaranteeMode  `json:"guarantee_mode"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// ValidateFQN checks the fully qualified name format.
func ValidateFQN(fqn string) error {
	if fqn == "" || len(fqn) > maxFQNLength {
		return fmt.Errorf("%w: fqn must be 1-%d characters", ErrValidation, maxFQNLength)
	}
	if !fqnPattern.MatchString(fqn) {
		return fmt.Errorf("%w: fqn %q must be dot-separated identifiers", ErrValidation, fqn)
	}
	return nil
}

// Validate checks asset invariants before persistence, applying defaults
// for environment and guarantee mode.
func (a *Asset) Validate() error {
	if err := ValidateFQN(a.FQN); err != nil {
		return err
	}
	if a.OwnerTeamID == "" {
		return fmt.Errorf("%w: owner_team_id is required", ErrValidation)
	}
	if a.Environment == "" {
		a.Environment = "production"
	}
	if a.GuaranteeMode == "" {
		a.GuaranteeMode = GuaranteeNotify
	}
	switch a.GuaranteeMode {
	case GuaranteeNotify, GuaranteeStrict, GuaranteeIgnore:
	default:
		return fmt.Errorf("%w: unknown guarantee mode %q", ErrValidation, a.GuaranteeMode)
	}
	return nil
}

// DependencyType labels an asset-to-asset edge.
type DependencyType string

const (
	DependencyConsumes   DependencyType = "consumes"
	DependencyReferences DependencyType = "references"
	DependencyTransforms DependencyType = "transforms"
)

// AssetDependency is a directed edge: the dependent asset reads from the
// dependency asset. Self-loops are forbidden; general cycles are not.
type AssetDependency struct {
	ID                string         `json:"id"`
	DependentAssetID  string         `json:"dependent_asset_id"`
	DependencyAssetID string         `json:"dependency_asset_id"`
	DependencyType    DependencyType `json:"dependency_type"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Validate checks dependency invariants before persistence.
func (d *AssetDependency) Validate() error {
	if d.DependentAssetID == "" || d.DependencyAssetID == "" {
		return fmt.Errorf("%w: both asset ids are required", ErrValidation)
	}
	if d.DependentAssetID == d.DependencyAssetID {
		return fmt.Errorf("%w: an asset cannot depend on itself", ErrSelfDependency)
	}
	if d.DependencyType == "" {
		d.DependencyType = DependencyConsumes
	}
	switch d.DependencyType {
	case DependencyConsumes, DependencyReferences, DependencyTransforms:
	default:
		return fmt.Errorf("%w: unknown dependency type %q", ErrValidation, d.DependencyType)
	}
	return nil
}
