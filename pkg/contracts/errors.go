package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable error taxonomy exposed on the wire.
type ErrorCode string

const (
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeInvalidSchema    ErrorCode = "INVALID_SCHEMA"
	CodeInvalidVersion   ErrorCode = "INVALID_VERSION"
	CodeInvalidFQN       ErrorCode = "INVALID_FQN"
	CodeTeamNotFound     ErrorCode = "TEAM_NOT_FOUND"
	CodeAssetNotFound    ErrorCode = "ASSET_NOT_FOUND"
	CodeContractNotFound ErrorCode = "CONTRACT_NOT_FOUND"
	CodeProposalNotFound ErrorCode = "PROPOSAL_NOT_FOUND"
	CodeKeyNotFound      ErrorCode = "API_KEY_NOT_FOUND"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE_RESOURCE"
	CodeBreakingChange   ErrorCode = "BREAKING_CHANGE_REQUIRES_PROPOSAL"
	CodeSelfDependency   ErrorCode = "SELF_DEPENDENCY"
	CodeIncompatible     ErrorCode = "INCOMPATIBLE_SCHEMA"
	CodeMissingAPIKey    ErrorCode = "MISSING_API_KEY"
	CodeInvalidAuth      ErrorCode = "INVALID_AUTH_HEADER"
	CodeInvalidAPIKey    ErrorCode = "INVALID_API_KEY"
	CodeNoScope          ErrorCode = "INSUFFICIENT_SCOPE"
	CodeWrongTeam        ErrorCode = "UNAUTHORIZED_TEAM"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// DomainError carries a taxonomy code across the domain/HTTP boundary.
type DomainError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	wrapped error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.wrapped
}

// NewError builds a DomainError with a code and message.
func NewError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a taxonomy code to an underlying error.
func WrapError(code ErrorCode, err error) *DomainError {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: err.Error(), wrapped: err}
}

// WithDetails attaches structured details for the error envelope.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	e.Details = details
	return e
}

// CodeOf extracts the taxonomy code from any error chain, mapping bare
// sentinels onto their canonical codes.
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeDuplicate
	case errors.Is(err, ErrInvalidVersion):
		return CodeInvalidVersion
	case errors.Is(err, ErrInvalidSchema):
		return CodeInvalidSchema
	case errors.Is(err, ErrSelfDependency):
		return CodeSelfDependency
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// Sentinel errors shared across packages.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidVersion = errors.New("invalid version")
	ErrInvalidSchema  = errors.New("invalid schema")
	ErrSelfDependency = errors.New("self dependency")
)
