package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

func (s *Server) auditEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	limit, offset := s.pagination(r)
	q := r.URL.Query()
	filter := store.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		Limit:      limit,
		Offset:     offset,
	}
	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeError(w, r, err)
		return
	}

	var events []*contracts.AuditEvent
	var total int
	err = s.store.View(r.Context(), func(tx *store.Tx) error {
		events, total, err = tx.QueryAuditEvents(r.Context(), filter)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Results: events, Total: total, Limit: limit, Offset: offset})
}

// auditExport streams a checksummed zip of matching audit events.
func (s *Server) auditExport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeAdmin); !ok {
		return
	}
	q := r.URL.Query()
	req := audit.ExportRequest{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	var err error
	var since, until *time.Time
	if since, err = parseTimeParam(q.Get("since")); err != nil {
		writeError(w, r, err)
		return
	}
	if until, err = parseTimeParam(q.Get("until")); err != nil {
		writeError(w, r, err)
		return
	}
	if since != nil {
		req.StartTime = *since
	}
	if until != nil {
		req.EndTime = *until
	}

	pack, checksum, err := s.exporter.GeneratePack(r.Context(), req)
	if err != nil {
		writeError(w, r, contracts.WrapError(contracts.CodeValidation, err))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-pack.zip"`)
	w.Header().Set("X-Content-Checksum", "sha256:"+checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	q := r.URL.Query()
	var types []string
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	results, err := s.engine.Search(r.Context(), q.Get("q"), types)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeValidation, "invalid timestamp %q, expected RFC 3339", v)
	}
	return &t, nil
}
