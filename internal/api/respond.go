// Package api exposes the scheduling and messaging operations over HTTP.
// Handlers are transport adapters only: decode, call the service, map the
// error category to a status code.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/careloop/schedkit/internal/fault"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case fault.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case fault.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case fault.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case fault.IsExternal(err):
		logger.Error("upstream failure", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream service unavailable"})
	default:
		logger.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
