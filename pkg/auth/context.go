package auth

import (
	"context"
	"errors"

	"github.com/tesserahq/tessera/pkg/contracts"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalKind says how a request authenticated.
type PrincipalKind string

const (
	KindAPIKey    PrincipalKind = "api_key"
	KindSession   PrincipalKind = "session"
	KindBootstrap PrincipalKind = "bootstrap"
)

// Principal is the authenticated identity attached to a request.
// ActorID is the API key id or user id, depending on Kind.
type Principal struct {
	ActorID string
	TeamID  string
	Kind    PrincipalKind
	Scopes  contracts.ScopeSet
}

// Can reports whether the principal holds the scope. Admin implies all.
func (p *Principal) Can(scope contracts.Scope) bool {
	return p != nil && p.Scopes.Has(scope)
}

// OwnsTeam reports whether the principal may act on resources owned by
// teamID. Admin-scoped principals act across teams.
func (p *Principal) OwnsTeam(teamID string) bool {
	if p == nil {
		return false
	}
	if p.Scopes.Has(contracts.ScopeAdmin) {
		return true
	}
	return p.TeamID == teamID
}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok || p == nil {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// ActorID returns the context principal's actor id. Background workers
// and bootstrap paths run without a principal and record as "system".
func ActorID(ctx context.Context) string {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "system"
	}
	return p.ActorID
}

// TeamID returns the context principal's team id, or "" when absent.
func TeamID(ctx context.Context) string {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return ""
	}
	return p.TeamID
}
