// Package api is the HTTP boundary: routing, middleware, the error
// envelope and the status-code mapping for the domain taxonomy.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tesserahq/tessera/pkg/contracts"
)

// errorBody is the wire shape inside the envelope.
type errorBody struct {
	Code      contracts.ErrorCode `json:"code"`
	Message   string              `json:"message"`
	RequestID string              `json:"request_id,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Details   map[string]any      `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// statusFor maps the domain taxonomy onto HTTP status codes.
func statusFor(code contracts.ErrorCode) int {
	switch code {
	case contracts.CodeValidation, contracts.CodeInvalidVersion, contracts.CodeInvalidFQN:
		return http.StatusBadRequest
	case contracts.CodeInvalidSchema:
		return http.StatusUnprocessableEntity
	case contracts.CodeMissingAPIKey, contracts.CodeInvalidAuth, contracts.CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case contracts.CodeNoScope, contracts.CodeWrongTeam:
		return http.StatusForbidden
	case contracts.CodeNotFound, contracts.CodeTeamNotFound, contracts.CodeAssetNotFound,
		contracts.CodeContractNotFound, contracts.CodeProposalNotFound, contracts.CodeKeyNotFound:
		return http.StatusNotFound
	case contracts.CodeDuplicate, contracts.CodeBreakingChange,
		contracts.CodeSelfDependency, contracts.CodeIncompatible:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error onto the envelope. Internal causes are
// logged, never exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := contracts.CodeOf(err)
	status := statusFor(code)

	message := "An unexpected error occurred."
	var details map[string]any
	var domainErr *contracts.DomainError
	if status < http.StatusInternalServerError {
		message = err.Error()
		if errors.As(err, &domainErr) {
			message = domainErr.Message
			details = domainErr.Details
		}
	} else {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", GetRequestID(r.Context()), "error", err)
	}

	writeEnvelope(w, r, status, errorBody{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeErrorCode builds an envelope for boundary-level failures that
// never reached the domain.
func writeErrorCode(w http.ResponseWriter, r *http.Request, code contracts.ErrorCode, message string) {
	writeEnvelope(w, r, statusFor(code), errorBody{Code: code, Message: message})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	body.RequestID = GetRequestID(r.Context())
	body.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: body})
}

// writeJSON writes a success body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// page is the list envelope.
type page struct {
	Results any `json:"results"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
}
