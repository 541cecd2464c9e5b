package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// SessionClaims are the JWT claims carried by browser sessions. API
// keys are the primary credential; sessions exist for the console.
type SessionClaims struct {
	jwt.RegisteredClaims
	TeamID string `json:"team_id"`
	Role   string `json:"role"`
}

// Sessions issues and verifies HMAC-signed session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	store  *store.Store
}

func NewSessions(secret []byte, ttl time.Duration, s *store.Store) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{secret: secret, ttl: ttl, store: s}
}

// Issue signs a session token for a user.
func (s *Sessions) Issue(user *contracts.User, now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("issue session: no signing secret configured")
	}
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		TeamID: user.TeamID,
		Role:   string(user.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a session token and resolves it to a Principal. The
// user row is re-read so a role change or team move takes effect on
// the next request, not at the next login.
func (s *Sessions) Verify(ctx context.Context, tokenStr string) (*Principal, error) {
	if len(s.secret) == 0 {
		return nil, contracts.NewError(contracts.CodeInvalidAuth, "session auth not configured")
	}
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, contracts.NewError(contracts.CodeInvalidAuth, "invalid or expired session")
	}
	if claims.Subject == "" {
		return nil, contracts.NewError(contracts.CodeInvalidAuth, "session subject is required")
	}

	var user *contracts.User
	err = s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, claims.Subject)
		return err
	})
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return nil, contracts.NewError(contracts.CodeInvalidAuth, "session user no longer exists")
		}
		return nil, err
	}
	if !user.Active() {
		return nil, contracts.NewError(contracts.CodeInvalidAuth, "account deactivated")
	}
	return &Principal{
		ActorID: user.ID,
		TeamID:  user.TeamID,
		Kind:    KindSession,
		Scopes:  contracts.ScopesForRole(user.Role),
	}, nil
}
