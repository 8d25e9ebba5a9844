package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// Error codes returned in the "code" field of error responses
const (
	CodeNotAMember       = "not_a_member"
	CodeForbidden        = "forbidden"
	CodeModuleNotEnabled = "module_not_enabled"
	CodeAlreadyMember    = "already_member"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeInvalid          = "invalid_request"
	CodeInternal         = "internal_error"
	CodeUnauthenticated  = "unauthenticated"
	CodeRateLimited      = "rate_limited"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteCodedError writes an error response carrying a machine-readable code
func WriteCodedError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// WriteDomainError maps the core error taxonomy to HTTP responses.
// Membership and policy denials are distinguishable from each other and
// from not-found so clients can explain what happened.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := classify(err)
	WriteCodedError(w, status, code, message, details)
}

// DomainStatus returns the HTTP status WriteDomainError uses for err
func DomainStatus(err error) int {
	status, _, _, _ := classify(err)
	return status
}

func classify(err error) (int, string, string, map[string]string) {
	var (
		notMember  *tenancy.NotAMemberError
		forbidden  *tenancy.ForbiddenError
		notEnabled *tenancy.ModuleNotEnabledError
		already    *tenancy.AlreadyMemberError
	)

	switch {
	case errors.As(err, &notMember):
		return http.StatusForbidden, CodeNotAMember, "you are not a member of this project", nil
	case errors.As(err, &forbidden):
		return http.StatusForbidden, CodeForbidden, "you are not allowed to " + forbidden.Action + " this project",
			map[string]string{"action": forbidden.Action}
	case errors.As(err, &notEnabled):
		return http.StatusForbidden, CodeModuleNotEnabled, "module " + notEnabled.Key + " is not enabled for this project",
			map[string]string{"module": notEnabled.Key}
	case errors.As(err, &already):
		return http.StatusConflict, CodeAlreadyMember, "user is already a member of this project", nil
	case tenancy.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound, err.Error(), nil
	case errors.Is(err, tenancy.ErrConflict):
		return http.StatusConflict, CodeConflict, err.Error(), nil
	case errors.Is(err, tenancy.ErrInvalidPermission), errors.Is(err, tenancy.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalid, err.Error(), nil
	default:
		return http.StatusInternalServerError, CodeInternal, "internal server error", nil
	}
}

// WriteSuccess writes data with 200 OK
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes data with 201 Created
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes an empty 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteCodedError(w, http.StatusBadRequest, CodeInvalid, message, nil)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteCodedError(w, http.StatusUnauthorized, CodeUnauthenticated, message, nil)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteCodedError(w, http.StatusForbidden, CodeForbidden, message, nil)
}

func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteCodedError(w, http.StatusNotFound, CodeNotFound, message, nil)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteCodedError(w, http.StatusTooManyRequests, CodeRateLimited, message, nil)
}
