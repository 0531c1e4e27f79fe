// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// StatusFor maps an error to the HTTP status of its kind.
func StatusFor(err error) int {
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest
	}
	switch shared.KindOf(err) {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", err.Error())
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusConflict:
		Problem(w, status, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
