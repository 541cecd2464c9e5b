// Package webhook drains the delivery queue the engine fills. Rows are
// written transactionally with the mutation that caused them, so the
// worker gives at-least-once delivery: a crash between POST and the
// status update replays the event.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

// Config carries the worker's tunables. Zero values fall back to
// defaults suitable for a single instance.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Worker polls pending deliveries and POSTs them to their target URL.
type Worker struct {
	store  *store.Store
	client *http.Client
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewWorker(s *store.Store, logger *slog.Logger, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  s,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		cfg:    cfg,
	}
}

// Start begins the polling loop. Calling Start on a running worker is
// an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("webhook worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.pollLoop(ctx)
	return nil
}

// Stop halts the loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.running = false
	done := w.done
	w.mu.Unlock()

	<-done
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain keeps fetching batches until the queue is empty. A full batch
// means there may be more behind it.
func (w *Worker) drain(ctx context.Context) {
	for {
		n, err := w.DeliverPending(ctx)
		if err != nil {
			w.logger.Error("webhook poll failed", "error", err)
			return
		}
		if n < w.cfg.BatchSize {
			return
		}
	}
}

// DeliverPending attempts one batch of pending deliveries and returns
// how many rows it picked up. Exposed so callers can flush the queue
// synchronously.
func (w *Worker) DeliverPending(ctx context.Context) (int, error) {
	pending, err := w.store.PendingWebhooks(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, d := range pending {
		w.attempt(ctx, d)
	}
	return len(pending), nil
}

// envelope is the wire shape posted to the target URL.
type envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (w *Worker) attempt(ctx context.Context, d *contracts.WebhookDelivery) {
	body, err := json.Marshal(envelope{
		ID:        d.ID,
		EventType: d.EventType,
		Payload:   d.Payload,
		CreatedAt: d.CreatedAt,
	})
	if err != nil {
		w.fail(ctx, d, 0, fmt.Sprintf("marshal envelope: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		w.fail(ctx, d, 0, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tessera-Event", d.EventType)
	req.Header.Set("X-Tessera-Delivery", d.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		w.fail(ctx, d, 0, err.Error())
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := w.store.MarkWebhookDelivered(ctx, d.ID, resp.StatusCode, time.Now()); err != nil {
			w.logger.Error("mark delivered failed", "delivery_id", d.ID, "error", err)
			return
		}
		w.logger.Debug("webhook delivered",
			"delivery_id", d.ID, "event_type", d.EventType, "status", resp.StatusCode)
		return
	}
	w.fail(ctx, d, resp.StatusCode, fmt.Sprintf("endpoint returned %d", resp.StatusCode))
}

func (w *Worker) fail(ctx context.Context, d *contracts.WebhookDelivery, statusCode int, cause string) {
	if err := w.store.RecordWebhookFailure(ctx, d.ID, statusCode, cause, w.cfg.MaxAttempts); err != nil {
		w.logger.Error("record failure failed", "delivery_id", d.ID, "error", err)
		return
	}
	w.logger.Warn("webhook attempt failed",
		"delivery_id", d.ID, "event_type", d.EventType,
		"attempt", d.Attempts+1, "max_attempts", w.cfg.MaxAttempts, "cause", cause)
}
