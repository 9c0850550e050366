package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/raido/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  int    `json:"code,omitempty" example:"6"`
}

func errorBody(msg string, code int) errResponse {
	return errResponse{Error: msg, Code: code}
}

// statusFor maps a store error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrEntityDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidFileName),
		errors.Is(err, apperr.ErrEncoding),
		errors.Is(err, apperr.ErrUnsupportedResultType),
		errors.Is(err, apperr.ErrUnsupportedRequestType):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrWrongEncodedType):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status and taxonomy code it maps to.
// Internal errors are logged and not echoed to the client.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error", apperr.Code(err)))
		return
	}
	writeJSON(w, status, errorBody(err.Error(), apperr.Code(err)))
}
