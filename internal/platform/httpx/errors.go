package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// FieldErrorer is implemented by validation errors that carry per-field
// messages.
type FieldErrorer interface {
	FieldErrors() map[string]string
}

// StatusFor maps domain errors to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNoTenant):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotConfirmed):
		return http.StatusPreconditionRequired
	case errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ProblemFor builds the problem document for err. The detail is always the
// user-safe message of err.
func ProblemFor(err error) ProblemDetail {
	status := StatusFor(err)
	problem := ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Detail: shared.UserSafeMessage(err),
	}
	var fe FieldErrorer
	if errors.As(err, &fe) {
		problem.Errors = fe.FieldErrors()
	}
	return problem
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	problem := ProblemFor(err)
	JSON(w, problem.Status, problem)
}
