package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/engine"
)

type proposalResponse struct {
	Proposal        *contracts.Proposal         `json:"proposal"`
	Acknowledgments []*contracts.Acknowledgment `json:"acknowledgments"`
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	proposal, acks, err := s.engine.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalResponse{Proposal: proposal, Acknowledgments: acks})
}

type acknowledgeRequest struct {
	ConsumerTeamID    string                `json:"consumer_team_id,omitempty"`
	Response          contracts.AckResponse `json:"response"`
	MigrationDeadline *time.Time            `json:"migration_deadline,omitempty"`
	Notes             string                `json:"notes,omitempty"`
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	p, ok := requireScope(w, r, contracts.ScopeWrite)
	if !ok {
		return
	}
	var req acknowledgeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ConsumerTeamID == "" {
		req.ConsumerTeamID = p.TeamID
	}
	ack, err := s.engine.Acknowledge(r.Context(), engine.AcknowledgeRequest{
		ProposalID:        r.PathValue("id"),
		ConsumerTeamID:    req.ConsumerTeamID,
		Response:          req.Response,
		MigrationDeadline: req.MigrationDeadline,
		Notes:             req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	proposal, err := s.engine.Withdraw(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) forceApprove(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeAdmin); !ok {
		return
	}
	proposal, err := s.engine.ForceApprove(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

type compareRequest struct {
	OldSchema json.RawMessage `json:"old_schema"`
	NewSchema json.RawMessage `json:"new_schema"`
	Mode      string          `json:"compatibility_mode,omitempty"`
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	var req compareRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	diff, cls, err := s.engine.Compare(r.Context(), req.OldSchema, req.NewSchema, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diff":           diff,
		"classification": cls,
	})
}

type registerRequest struct {
	ContractID     string `json:"contract_id"`
	ConsumerTeamID string `json:"consumer_team_id,omitempty"`
	PinnedVersion  string `json:"pinned_version,omitempty"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req registerRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("contract_id"); v != "" {
		req.ContractID = v
	}
	reg, err := s.engine.Register(r.Context(), req.ContractID, req.ConsumerTeamID, req.PinnedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

type updateRegistrationRequest struct {
	Status        contracts.RegistrationStatus `json:"status,omitempty"`
	PinnedVersion string                       `json:"pinned_version,omitempty"`
}

func (s *Server) updateRegistration(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req updateRegistrationRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := s.engine.UpdateRegistration(r.Context(), r.PathValue("id"), req.Status, req.PinnedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (s *Server) unregister(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	if err := s.engine.Unregister(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
