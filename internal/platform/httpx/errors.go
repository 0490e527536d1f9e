// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// transientRetryAfter is the Retry-After hint, in seconds, for transient store failures.
const transientRetryAfter = "2"

// RespondError maps domain errors to HTTP responses using RFC7807.
// Denials never describe which grant was missing.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAuthenticationRequired):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case errors.Is(err, shared.ErrSelfActionForbidden):
		Problem(w, http.StatusForbidden, "Self Action Forbidden", "this action cannot be performed on your own account")
	case errors.Is(err, shared.ErrAuthorizationDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "insufficient permission")
	case errors.Is(err, shared.ErrAccessDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "access denied")
	case errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrTransientStore):
		w.Header().Set("Retry-After", transientRetryAfter)
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "temporarily unavailable, retry later")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// StatusOf returns the status code RespondError would write for err.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrSelfActionForbidden), errors.Is(err, shared.ErrAuthorizationDenied),
		errors.Is(err, shared.ErrAccessDenied), errors.Is(err, shared.ErrCSRFTokenMissing),
		errors.Is(err, shared.ErrCSRFTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
