package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/engine"
	"github.com/tesserahq/tessera/pkg/store"
)

// Server wires the domain services behind the HTTP routes.
type Server struct {
	engine   *engine.Engine
	keys     *auth.KeyService
	store    *store.Store
	exporter *audit.Exporter
	logger   *slog.Logger

	pageDefault  int
	pageMax      int
	maxBodyBytes int64
}

// ServerOptions are the transport-level tunables.
type ServerOptions struct {
	PageDefault  int
	PageMax      int
	MaxBodyBytes int64
}

func NewServer(eng *engine.Engine, keys *auth.KeyService, s *store.Store, logger *slog.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageDefault <= 0 {
		opts.PageDefault = 50
	}
	if opts.PageMax <= 0 {
		opts.PageMax = 200
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:       eng,
		keys:         keys,
		store:        s,
		exporter:     audit.NewExporter(s),
		logger:       logger,
		pageDefault:  opts.PageDefault,
		pageMax:      opts.PageMax,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Routes registers the authenticated API surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/teams", s.createTeam)
	mux.HandleFunc("GET /api/v1/teams", s.listTeams)
	mux.HandleFunc("GET /api/v1/teams/{id}", s.getTeam)
	mux.HandleFunc("PATCH /api/v1/teams/{id}", s.updateTeam)

	mux.HandleFunc("POST /api/v1/assets", s.createAsset)
	mux.HandleFunc("GET /api/v1/assets", s.listAssets)
	mux.HandleFunc("GET /api/v1/assets/{id}", s.getAsset)
	mux.HandleFunc("POST /api/v1/assets/{id}/contracts", s.publishContract)
	mux.HandleFunc("GET /api/v1/assets/{id}/contracts", s.contractHistory)
	mux.HandleFunc("GET /api/v1/assets/{id}/contracts/active", s.activeContract)
	mux.HandleFunc("POST /api/v1/assets/{id}/impact", s.impact)
	mux.HandleFunc("GET /api/v1/assets/{id}/lineage", s.lineage)
	mux.HandleFunc("POST /api/v1/assets/{id}/dependencies", s.addDependency)

	mux.HandleFunc("POST /api/v1/registrations", s.register)
	mux.HandleFunc("PATCH /api/v1/registrations/{id}", s.updateRegistration)
	mux.HandleFunc("DELETE /api/v1/registrations/{id}", s.unregister)

	mux.HandleFunc("GET /api/v1/proposals/{id}", s.getProposal)
	mux.HandleFunc("POST /api/v1/proposals/{id}/acknowledge", s.acknowledge)
	mux.HandleFunc("POST /api/v1/proposals/{id}/withdraw", s.withdraw)
	mux.HandleFunc("POST /api/v1/proposals/{id}/force", s.forceApprove)

	mux.HandleFunc("POST /api/v1/contracts/compare", s.compare)

	mux.HandleFunc("GET /api/v1/audit/events", s.auditEvents)
	mux.HandleFunc("GET /api/v1/audit/export", s.auditExport)

	mux.HandleFunc("POST /api/v1/api-keys", s.createKey)
	mux.HandleFunc("GET /api/v1/api-keys", s.listKeys)
	mux.HandleFunc("GET /api/v1/api-keys/{id}", s.getKey)
	mux.HandleFunc("DELETE /api/v1/api-keys/{id}", s.revokeKey)

	mux.HandleFunc("GET /api/v1/search", s.search)

	return mux
}

// HandlerOptions configures the middleware stack around the routes.
type HandlerOptions struct {
	Authenticator *auth.Authenticator
	Sessions      *auth.Sessions
	RateLimits    RateLimits
	CORSOrigins   []string
	Idempotency   *IdempotencyStore
}

// Handler assembles the full stack: request ID, logging, CORS, auth,
// rate limiting and idempotent replay around the routes, with health
// probes outside the authenticated surface.
func (s *Server) Handler(opts HandlerOptions) http.Handler {
	api := Chain(s.Routes(),
		AuthMiddleware(opts.Authenticator, opts.Sessions),
		NewRateLimiter(opts.RateLimits).Middleware,
	)
	if opts.Idempotency != nil {
		api = opts.Idempotency.Middleware(api)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.health)
	root.Handle("/api/v1/", api)

	return Chain(root,
		RequestIDMiddleware,
		LoggingMiddleware(s.logger),
		CORSMiddleware(opts.CORSOrigins),
	)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body with the configured size cap.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return contracts.NewError(contracts.CodeValidation, "invalid request body: %v", err)
	}
	return nil
}

// pagination parses limit/offset query params within configured bounds.
func (s *Server) pagination(r *http.Request) (limit, offset int) {
	limit = s.pageDefault
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > s.pageMax {
		limit = s.pageMax
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
