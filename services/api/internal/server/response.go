package server

import (
	"encoding/json"
	"net/http"

	"audimeta/internal/util"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}
