package contracts

import (
	"fmt"
	"time"
)

// Scope is a coarse capability granted by an API key.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// ScopeSet is an unordered set of scopes.
type ScopeSet map[Scope]bool

// NewScopeSet builds a set from individual scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

// Has reports whether the set grants the scope. Admin implies all.
func (s ScopeSet) Has(scope Scope) bool {
	return s[scope] || s[ScopeAdmin]
}

// Slice returns the scopes in a stable order for serialization.
func (s ScopeSet) Slice() []Scope {
	out := make([]Scope, 0, len(s))
	for _, scope := range []Scope{ScopeRead, ScopeWrite, ScopeAdmin} {
		if s[scope] {
			out = append(out, scope)
		}
	}
	return out
}

// ScopesForRole maps session roles onto scope sets.
func ScopesForRole(role Role) ScopeSet {
	switch role {
	case RoleAdmin:
		return NewScopeSet(ScopeRead, ScopeWrite, ScopeAdmin)
	case RoleTeamAdmin:
		return NewScopeSet(ScopeRead, ScopeWrite)
	default:
		return NewScopeSet(ScopeRead)
	}
}

// APIKey is a stored credential. The raw key is never persisted; only a
// salted hash and a short prefix for candidate lookup.
type APIKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	TeamID     string     `json:"team_id"`
	Scopes     ScopeSet   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Usable reports whether the key may authenticate at the given instant.
func (k *APIKey) Usable(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Validate checks key invariants before persistence.
func (k *APIKey) Validate() error {
	if k.KeyHash == "" || k.KeyPrefix == "" {
		return fmt.Errorf("%w: key hash and prefix are required", ErrValidation)
	}
	if k.TeamID == "" {
		return fmt.Errorf("%w: team_id is required", ErrValidation)
	}
	if len(k.Scopes) == 0 {
		return fmt.Errorf("%w: at least one scope is required", ErrValidation)
	}
	for scope := range k.Scopes {
		switch scope {
		case ScopeRead, ScopeWrite, ScopeAdmin:
		default:
			return fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
		}
	}
	return nil
}
