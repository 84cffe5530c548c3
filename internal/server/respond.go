package server

import (
	"encoding/json"
	"net/http"

	"odatamcp/internal/api"
	"odatamcp/pkg/logging"
)

// errorBody is the JSON error shape of every gateway endpoint.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Gateway", "Failed to write response: %v", err)
	}
}

// writeError maps err through the api taxonomy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error("Gateway", err, "%s %s failed", r.Method, r.URL.Path)
	} else {
		logging.Debug("Gateway", "%s %s: %v", r.Method, r.URL.Path, err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	writeJSON(w, status, errorBody{
		Error:            api.Kind(err),
		ErrorDescription: api.PublicMessage(err),
	})
}

// badRequest writes a 400 with an OAuth-style error code.
func badRequest(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: code, ErrorDescription: description})
}
