// Package contracts defines the Tessera domain entities: teams, users,
// assets, contracts, registrations, proposals and their life cycles.
package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Team is a producer or consumer organization. Teams soft-delete.
type Team struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Validate checks team invariants before persistence.
func (t *Team) Validate() error {
	if t.Name == "" || len(t.Name) > 255 {
		return fmt.Errorf("%w: team name must be 1-255 characters", ErrValidation)
	}
	return nil
}

// Role is a user's coarse capability level within their team.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTeamAdmin Role = "team_admin"
	RoleUser      Role = "user"
)

// User is an individual account, authenticated via session cookie.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name"`
	TeamID        string         `json:"team_id,omitempty"`
	PasswordHash  string         `json:"-"`
	Role          Role           `json:"role"`
	Notifications map[string]any `json:"notification_preferences,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeactivatedAt *time.Time     `json:"deactivated_at,omitempty"`
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u.DeactivatedAt == nil
}

// Validate checks user invariants before persistence.
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	switch u.Role {
	case RoleAdmin, RoleTeamAdmin, RoleUser:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrValidation, u.Role)
	}
	return nil
}

// ErrValidation is the root of all entity validation failures.
var ErrValidation = errors.New("validation failed")
