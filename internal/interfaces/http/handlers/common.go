// Package handlers implements the HTTP API surface: JSON request decoding,
// service dispatch, and uniform error rendering.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/clinforge/cohortd/internal/interfaces/http/middleware"
	"github.com/clinforge/cohortd/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListResponse is the standard paginated collection envelope.
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
}

// userID extracts the authenticated user from the request context.
func userID(r *http.Request) string {
	return middleware.ContextGetUserID(r.Context())
}

// parsePagination extracts limit and offset from query parameters, bounded
// to keep result sets manageable.
func parsePagination(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError renders an error with the HTTP status its code maps to.
// Codes without a user-facing mapping are masked as an internal error.
func writeAppError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status, ok := errors.ErrorCodeHTTPStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		code = errors.ErrCodeInternal
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Message: msg})
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body")
	}
	return nil
}
