package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict reported by the store.
	ErrConflict = errors.New("conflict")
	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the session lacks a required capability.
	ErrForbidden = errors.New("forbidden")
	// ErrNoTenant occurs when the session has no active tenant.
	ErrNoTenant = errors.New("no active tenant")
	// ErrNotConfirmed occurs when a destructive action was not confirmed.
	ErrNotConfirmed = errors.New("action not confirmed")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserMessager is implemented by errors that carry a message safe to show to
// end users.
type UserMessager interface {
	UserMessage() string
}

// UserSafeMessage returns a message suitable for notifications. Internal error
// details never leak; unknown errors collapse to a generic sentence.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "The record no longer exists."
	case errors.Is(err, ErrConflict):
		return "The record conflicts with an existing one."
	case errors.Is(err, ErrValidation):
		return "Some fields are invalid."
	case errors.Is(err, ErrCSRFTokenMissing), errors.Is(err, ErrCSRFTokenMismatch):
		return "Your session expired. Reload the page."
	case errors.Is(err, ErrForbidden):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrNoTenant):
		return "No company selected."
	case errors.Is(err, ErrNotConfirmed):
		return "The action was not confirmed."
	}
	return "Something went wrong. Please try again."
}
