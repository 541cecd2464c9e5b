// Package engine implements the contract evolution core: publication
// decisions, the proposal workflow, impact traversal and lineage.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// Config carries the engine's tunables. Zero values fall back to
// production-safe defaults.
type Config struct {
	// ProposalExpiryDays is applied when a proposal is created without
	// an explicit expiry.
	ProposalExpiryDays int
	// DefaultDepth and MaxDepth bound the impact traversal.
	DefaultDepth int
	MaxDepth     int
	// WebhookURL receives proposal and publication notifications. Empty
	// disables delivery enqueueing.
	WebhookURL string
}

func (c Config) withDefaults() Config {
	if c.ProposalExpiryDays <= 0 {
		c.ProposalExpiryDays = 30
	}
	if c.DefaultDepth <= 0 {
		c.DefaultDepth = 5
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	return c
}

// Engine orchestrates every contract mutation. All state lives in the
// store; the engine itself is safe for concurrent use.
type Engine struct {
	store    *store.Store
	recorder *audit.Recorder
	cache    *cache.Cache
	logger   *slog.Logger
	cfg      Config
}

func New(s *store.Store, recorder *audit.Recorder, c *cache.Cache, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(nil, "", logger)
	}
	return &Engine{
		store:    s,
		recorder: recorder,
		cache:    c,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// enqueueWebhook writes a delivery row inside the mutation's
// transaction. No configured URL means no delivery.
func (e *Engine) enqueueWebhook(ctx context.Context, tx *store.Tx, eventType string, payload any) error {
	if e.cfg.WebhookURL == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.EnqueueWebhook(ctx, &contracts.WebhookDelivery{
		ID:        uuid.New().String(),
		EventType: eventType,
		Payload:   raw,
		URL:       e.cfg.WebhookURL,
		CreatedAt: time.Now().UTC(),
	})
}

// invalidateContractCaches drops the keys a publish makes stale. Cache
// writes are best-effort; this never fails the mutation.
func (e *Engine) invalidateContractCaches(ctx context.Context, assetID string) {
	keys := []string{
		cache.ContractKey(assetID),
		cache.AssetKey(assetID),
	}
	for depth := 1; depth <= e.cfg.MaxDepth; depth++ {
		keys = append(keys, cache.LineageKey(assetID, depth))
	}
	e.cache.Delete(ctx, keys...)
}
