package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

var (
	// ErrInvalidTimeRange is returned when the export window is inverted.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when export runs without a store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
)

const exportPageSize = 500

// ExportRequest defines the slice of the trail to export. Zero times
// mean an unbounded window; an empty EntityType exports everything.
type ExportRequest struct {
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`
}

// Exporter builds checksummed evidence bundles from the audit trail.
type Exporter struct {
	store *store.Store
}

func NewExporter(s *store.Store) *Exporter {
	return &Exporter{store: s}
}

// GeneratePack creates a zip holding the matching events plus a
// manifest, and returns the archive with its sha256 checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if e == nil || e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	events, err := e.collect(ctx, req)
	if err != nil {
		return nil, "", err
	}

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"generated_at": time.Now().UTC(),
		"event_count":  len(events),
		"entity_type":  req.EntityType,
		"entity_id":    req.EntityID,
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Tessera audit export\nGenerated at %s\nEvents: %d\n",
		time.Now().UTC().Format(time.RFC3339), len(events))

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}

func (e *Exporter) collect(ctx context.Context, req ExportRequest) ([]*contracts.AuditEvent, error) {
	filter := store.AuditFilter{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Limit:      exportPageSize,
	}
	if !req.StartTime.IsZero() {
		filter.Since = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.Until = &req.EndTime
	}

	var events []*contracts.AuditEvent
	err := e.store.View(ctx, func(tx *store.Tx) error {
		for {
			page, total, err := tx.QueryAuditEvents(ctx, filter)
			if err != nil {
				return err
			}
			events = append(events, page...)
			filter.Offset += len(page)
			if len(page) == 0 || filter.Offset >= total {
				return nil
			}
		}
	})
	return events, err
}
