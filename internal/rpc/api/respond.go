package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/rpc"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: message})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, proposal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, proposal.ErrInvalidTransition), errors.Is(err, proposal.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, proposal.ErrWriteFailure):
		return http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrNoRunCommand):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
