package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the uniform wire frame around every API payload.
// Success: {"status":"ok","response":...}. Failure: {"status":"error","msg":...}.
type envelope struct {
	Status   string `json:"status"`
	Msg      string `json:"msg,omitempty"`
	Response any    `json:"response,omitempty"`
}

func writeOK(w http.ResponseWriter, r *http.Request, payload any) {
	writeEnvelope(w, r, http.StatusOK, envelope{Status: "ok", Response: payload})
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeEnvelope(w, r, status, envelope{Status: "error", Msg: msg})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.ErrorContext(r.Context(), "Response encoding failed", "error", err, "url", r.URL.Path)
	}
}
