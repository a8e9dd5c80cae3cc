// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the OpenAI-compatible surface (chat completions, files,
// models), the artifact image server, and the JSON admin API over the pool
// and the settings store.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// apiError follows the OpenAI error shape so clients built against the
// upstream API parse our failures.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	errType := "api_error"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		errType = "invalid_request_error"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		errType = "rate_limit_error"
	case errors.Is(err, domain.ErrNoAccounts), errors.Is(err, domain.ErrAllAccountsFailed):
		status = http.StatusInternalServerError
		errType = "api_error"
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrSession):
		status = http.StatusBadGateway
		errType = "api_error"
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		errType = "api_error"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Message: err.Error(), Type: errType}})
}
