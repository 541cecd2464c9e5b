package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/versioning"
)

// ContractStatus is the contract life-cycle state.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractDeprecated ContractStatus = "deprecated"
	ContractRetired    ContractStatus = "retired"
)

// Guarantees is the optional quality sub-document attached to a
// contract. External runners report results against it; Tessera only
// stores and distributes it.
type Guarantees struct {
	Freshness      map[string]any `json:"freshness,omitempty"`
	Volume         map[string]any `json:"volume,omitempty"`
	Nullability    map[string]any `json:"nullability,omitempty"`
	AcceptedValues map[string]any `json:"accepted_values,omitempty"`
}

// Contract is a versioned schema governing one asset.
// Invariant: at most one contract per asset has status=active.
type Contract struct {
	ID                string                   `json:"id"`
	AssetID           string                   `json:"asset_id"`
	Version           string                   `json:"version"`
	SchemaDef         json.RawMessage          `json:"schema_def"`
	CompatibilityMode schema.CompatibilityMode `json:"compatibility_mode"`
	Guarantees        *Guarantees              `json:"guarantees,omitempty"`
	Status            ContractStatus           `json:"status"`
	PublishedAt       time.Time                `json:"published_at"`
	PublishedBy       string                   `json:"published_by"`
}

// Validate checks contract invariants before persistence. A contract is
// never stored without a concrete version.
func (c *Contract) Validate() error {
	if c.AssetID == "" {
		return fmt.Errorf("%w: asset_id is required", ErrValidation)
	}
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidVersion)
	}
	if _, err := versioning.Parse(c.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	if len(c.SchemaDef) == 0 {
		return fmt.Errorf("%w: schema_def is required", ErrInvalidSchema)
	}
	if !c.CompatibilityMode.Valid() {
		return fmt.Errorf("%w: unknown compatibility mode %q", ErrValidation, c.CompatibilityMode)
	}
	switch c.Status {
	case ContractActive, ContractDeprecated, ContractRetired:
	default:
		return fmt.Errorf("%w: unknown contract status %q", ErrValidation, c.Status)
	}
	return nil
}

// Schema parses the stored schema document.
func (c *Contract) Schema() (schema.Document, error) {
	return schema.ParseDocument(c.SchemaDef)
}

// RegistrationStatus is a consumer registration's life-cycle state.
type RegistrationStatus string

const (
	RegistrationActive    RegistrationStatus = "active"
	RegistrationMigrating RegistrationStatus = "migrating"
	RegistrationInactive  RegistrationStatus = "inactive"
)

// Registration is a consumer team's declared dependency on a contract.
// Unique on (contract_id, consumer_team_id).
type Registration struct {
	ID             string             `json:"id"`
	ContractID     string             `json:"contract_id"`
	ConsumerTeamID string             `json:"consumer_team_id"`
	PinnedVersion  string             `json:"pinned_version,omitempty"`
	Status         RegistrationStatus `json:"status"`
	RegisteredAt   time.Time          `json:"registered_at"`
	AcknowledgedAt *time.Time         `json:"acknowledged_at,omitempty"`
}

// Validate checks registration invariants before persistence.
func (r *Registration) Validate() error {
	if r.ContractID == "" || r.ConsumerTeamID == "" {
		return fmt.Errorf("%w: contract_id and consumer_team_id are required", ErrValidation)
	}
	if r.Status == "" {
		r.Status = RegistrationActive
	}
	switch r.Status {
	case RegistrationActive, RegistrationMigrating, RegistrationInactive:
	default:
		return fmt.Errorf("%w: unknown registration status %q", ErrValidation, r.Status)
	}
	if r.PinnedVersion != "" {
		if _, err := versioning.Parse(r.PinnedVersion); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidVersion, err)
		}
	}
	return nil
}
