package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

const (
	keyNamespace = "tess"
	keySecretHex = 64
	keyPrefixHex = 8
	bcryptCost   = bcrypt.DefaultCost
)

// MintedKey is the one-time result of key generation. Secret is shown
// to the caller exactly once and never stored.
type MintedKey struct {
	Secret string
	Prefix string
	Hash   string
}

// MintKey generates a fresh API key secret for the given environment,
// e.g. "tess_prod_3f9c...". The stored hash is bcrypt over a sha256
// digest of the secret, which keeps the input under bcrypt's 72-byte
// cap regardless of prefix length.
func MintKey(env string) (*MintedKey, error) {
	if env == "" {
		return nil, fmt.Errorf("mint key: environment is required")
	}
	raw := make([]byte, keySecretHex/2)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("mint key: %w", err)
	}
	body := hex.EncodeToString(raw)
	secret := fmt.Sprintf("%s_%s_%s", keyNamespace, env, body)

	hash, err := bcrypt.GenerateFromPassword(digest(secret), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("mint key: %w", err)
	}
	return &MintedKey{
		Secret: secret,
		Prefix: fmt.Sprintf("%s_%s_%s", keyNamespace, env, body[:keyPrefixHex]),
		Hash:   string(hash),
	}, nil
}

// KeyPrefix extracts the stored lookup prefix from a presented secret.
// Returns "" when the secret does not have the expected shape.
func KeyPrefix(secret string) string {
	parts := strings.Split(secret, "_")
	if len(parts) != 3 || parts[0] != keyNamespace || len(parts[2]) != keySecretHex {
		return ""
	}
	return fmt.Sprintf("%s_%s_%s", parts[0], parts[1], parts[2][:keyPrefixHex])
}

func digest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

// Authenticator resolves presented credentials into a Principal.
type Authenticator struct {
	store        *store.Store
	logger       *slog.Logger
	bootstrapKey string
}

func NewAuthenticator(s *store.Store, logger *slog.Logger, bootstrapKey string) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{store: s, logger: logger, bootstrapKey: bootstrapKey}
}

// AuthenticateKey verifies a presented API key secret. Candidate rows
// are narrowed by prefix and each surviving hash is checked; the first
// match wins. last_used_at is stamped best-effort after verification.
func (a *Authenticator) AuthenticateKey(ctx context.Context, secret string) (*Principal, error) {
	if p, ok, err := a.tryBootstrap(ctx, secret); err != nil || ok {
		return p, err
	}

	prefix := KeyPrefix(secret)
	if prefix == "" {
		return nil, contracts.NewError(contracts.CodeInvalidAPIKey, "malformed API key")
	}

	now := time.Now().UTC()
	var candidates []*contracts.APIKey
	err := a.store.View(ctx, func(tx *store.Tx) error {
		var err error
		candidates, err = tx.CandidatesByPrefix(ctx, prefix, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	sum := digest(secret)
	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), sum) != nil {
			continue
		}
		if err := a.store.TouchAPIKey(ctx, key.ID, now); err != nil {
			a.logger.Warn("touch api key failed", "key_id", key.ID, "error", err)
		}
		return &Principal{
			ActorID: key.ID,
			TeamID:  key.TeamID,
			Kind:    KindAPIKey,
			Scopes:  key.Scopes,
		}, nil
	}
	return nil, contracts.NewError(contracts.CodeInvalidAPIKey, "unknown or revoked API key")
}

// IsBootstrap reports whether a token matches the configured bootstrap
// key. Lets the transport route tokens that lack the key prefix.
func (a *Authenticator) IsBootstrap(secret string) bool {
	if a.bootstrapKey == "" || len(secret) != len(a.bootstrapKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(a.bootstrapKey)) == 1
}

// tryBootstrap matches the operator-configured bootstrap key. The
// resulting principal carries admin scope bound to the first team, so
// a fresh deployment can create its initial team and keys.
func (a *Authenticator) tryBootstrap(ctx context.Context, secret string) (*Principal, bool, error) {
	if a.bootstrapKey == "" || len(secret) != len(a.bootstrapKey) {
		return nil, false, nil
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.bootstrapKey)) != 1 {
		return nil, false, nil
	}

	teamID := ""
	err := a.store.View(ctx, func(tx *store.Tx) error {
		team, err := tx.FirstTeam(ctx)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return nil
			}
			return err
		}
		teamID = team.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &Principal{
		ActorID: "bootstrap",
		TeamID:  teamID,
		Kind:    KindBootstrap,
		Scopes:  contracts.NewScopeSet(contracts.ScopeAdmin),
	}, true, nil
}
