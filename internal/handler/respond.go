package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a service error to an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	var (
		state    *appErrors.InvalidStateTransitionError
		conflict *appErrors.ErrConflict
		limited  *appErrors.RateLimitedError
	)
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case appErrors.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &state):
		return http.StatusConflict, "invalid_state_transition"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError writes err as JSON. Internal errors are logged and their text is
// not sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal server error"
	}
	WriteJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// Decode reads a JSON body into v. Unknown fields are ignored.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.NewValidation("body", "request body is empty")
		}
		return appErrors.NewValidation("body", "invalid JSON: %v", err)
	}
	return nil
}
