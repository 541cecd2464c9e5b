package api

import (
	"net/http"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

type createKeyRequest struct {
	TeamID    string            `json:"team_id"`
	Name      string            `json:"name"`
	Scopes    []contracts.Scope `json:"scopes"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// createKeyResponse carries the secret exactly once.
type createKeyResponse struct {
	Key    *contracts.APIKey `json:"key"`
	Secret string            `json:"secret"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	p, ok := requireScope(w, r, contracts.ScopeAdmin)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TeamID == "" {
		req.TeamID = p.TeamID
	}
	key, secret, err := s.keys.CreateKey(r.Context(), req.TeamID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, Secret: secret})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := requireScope(w, r, contracts.ScopeAdmin)
	if !ok {
		return
	}
	teamID := r.URL.Query().Get("team_id")
	if teamID == "" {
		teamID = p.TeamID
	}
	keys, err := s.keys.ListKeys(r.Context(), teamID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Results: keys, Total: len(keys), Limit: len(keys)})
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeAdmin); !ok {
		return
	}
	key, err := s.keys.GetKey(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeAdmin); !ok {
		return
	}
	if err := s.keys.RevokeKey(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
