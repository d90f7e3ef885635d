// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/lexledger/lexledger/internal/shared"
)

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrIllegalTransition), errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

var titles = map[int]string{
	http.StatusNotFound:             "Not Found",
	http.StatusBadRequest:           "Validation Failed",
	http.StatusUnprocessableEntity:  "Insufficient Balance",
	http.StatusConflict:             "Conflict",
	http.StatusPreconditionRequired: "Confirmation Required",
	http.StatusForbidden:            "Forbidden",
	http.StatusInternalServerError:  "Internal Error",
}

// problemType distinguishes the two 409 cases for clients.
func problemType(err error) string {
	switch {
	case errors.Is(err, shared.ErrIllegalTransition):
		return "illegal-transition"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return "concurrency-conflict"
	case errors.Is(err, shared.ErrInsufficientBalance):
		return "insufficient-balance"
	case errors.Is(err, shared.ErrConfirmationRequired):
		return "confirmation-required"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not-found"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	}
	return ""
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unknown errors become 500 with an empty detail.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = shared.UserSafeMessage(err)
	}
	writeProblem(w, ProblemDetail{
		Type:   problemType(err),
		Title:  titles[status],
		Status: status,
		Detail: detail,
	})
}
