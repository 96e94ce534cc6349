// Package httpx holds the response helpers and middleware shared by the
// lending HTTP handlers. Handlers never write raw status codes for
// errors; they hand the error to WriteError, which classifies it by
// apperr kind.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"lendinghub/internal/apperr"
)

// ErrorResponse is the error envelope for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Decode reads a JSON body into dst. On failure it writes a 400 and
// returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error(), Code: "validation"})
		return false
	}
	return true
}

// DecodeOptional is Decode for endpoints where the body may be empty.
func DecodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error(), Code: "validation"})
		return false
	}
	return true
}

// WriteError maps an error to a status code by its apperr kind.
// Invariant violations and unclassified errors are logged and reported
// as a generic 500 so internals do not leak.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		JSON(w, status, ErrorResponse{Error: "internal server error", Code: code})
		return
	}
	JSON(w, status, ErrorResponse{Error: apperr.Message(err), Code: code})
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, apperr.ErrBusinessRule):
		return http.StatusUnprocessableEntity, "business_rule"
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, apperr.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
