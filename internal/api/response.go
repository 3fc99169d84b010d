package api

import (
	"encoding/json"
	"net/http"
)

// Every handler reply, job documents and error envelopes alike, goes
// through writeJSON so clients see one serialization.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError wraps a message in the single-field envelope API consumers
// parse: {"error": "..."}. The message is operator-facing and never
// echoes request content.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

type errorResponse struct {
	Error string `json:"error"`
}
