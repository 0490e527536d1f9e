package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")

	// ErrAuthenticationRequired means there is no valid session, or the
	// session's user no longer exists or was deactivated.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrAuthorizationDenied is returned when the resolved permission set lacks
	// the required (source, action) pair. It is returned whether or not the
	// target entity exists.
	ErrAuthorizationDenied = errors.New("insufficient permission")
	// ErrSelfActionForbidden rejects an actor deleting or deactivating their own account.
	ErrSelfActionForbidden = errors.New("action not allowed on own account")
	// ErrAccessDenied is the only outcome a rejected sign-in ever sees.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransientStore marks a timeout or connection failure talking to the store.
	// Callers may retry; it never means allow or deny.
	ErrTransientStore = errors.New("store temporarily unavailable")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness or reference conflict.
	ErrConflict = errors.New("conflict")
)
