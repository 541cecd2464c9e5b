package api

import (
	"net/http"

	"github.com/tesserahq/tessera/pkg/contracts"
)

type teamRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeAdmin); !ok {
		return
	}
	var req teamRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := s.engine.CreateTeam(r.Context(), req.Name, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	limit, offset := s.pagination(r)
	teams, total, err := s.engine.ListTeams(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Results: teams, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	team, err := s.engine.GetTeam(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) updateTeam(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req teamRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	team, err := s.engine.UpdateTeam(r.Context(), r.PathValue("id"), req.Name, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}
