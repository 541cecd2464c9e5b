package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/engine"
	"github.com/tesserahq/tessera/pkg/store"
)

type assetRequest struct {
	FQN           string                  `json:"fqn"`
	OwnerTeamID   string                  `json:"owner_team_id,omitempty"`
	Environment   string                  `json:"environment,omitempty"`
	ResourceType  contracts.ResourceType  `json:"resource_type,omitempty"`
	GuaranteeMode contracts.GuaranteeMode `json:"guarantee_mode,omitempty"`
	Metadata      map[string]any          `json:"metadata,omitempty"`
}

func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req assetRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	asset, err := s.engine.CreateAsset(r.Context(), &contracts.Asset{
		FQN:           req.FQN,
		OwnerTeamID:   req.OwnerTeamID,
		Environment:   req.Environment,
		ResourceType:  req.ResourceType,
		GuaranteeMode: req.GuaranteeMode,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	limit, offset := s.pagination(r)
	var assets []*contracts.Asset
	var total int
	err := s.store.View(r.Context(), func(tx *store.Tx) error {
		var err error
		assets, total, err = tx.ListAssets(r.Context(), limit, offset)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Results: assets, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	asset, err := s.engine.GetAsset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) publishContract(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req engine.PublishRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.AssetID = r.PathValue("id")
	if v := r.URL.Query().Get("published_by"); v != "" {
		req.PublishedBy = v
	}
	req.Force = r.URL.Query().Get("force") == "true"

	result, err := s.engine.Publish(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Action == engine.ActionProposalCreated {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) contractHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	history, err := s.engine.ContractHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Results: history, Total: len(history), Limit: len(history)})
}

func (s *Server) activeContract(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	contract, err := s.engine.ActiveContract(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

type impactRequest struct {
	SchemaDef json.RawMessage `json:"schema_def"`
}

func (s *Server) impact(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	var req impactRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	report, err := s.engine.Impact(r.Context(), r.PathValue("id"), req.SchemaDef, depth)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) lineage(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeRead); !ok {
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	lineage, err := s.engine.AssetLineage(r.Context(), r.PathValue("id"), depth)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

type dependencyRequest struct {
	DependencyAssetID string                   `json:"dependency_asset_id"`
	DependencyType    contracts.DependencyType `json:"dependency_type,omitempty"`
}

func (s *Server) addDependency(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, contracts.ScopeWrite); !ok {
		return
	}
	var req dependencyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dep, err := s.engine.AddDependency(r.Context(), r.PathValue("id"), req.DependencyAssetID, req.DependencyType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}
