package httpserver

import (
	"encoding/json"
	"maps"
	"net/http"

	"github.com/animus-labs/autopilot/internal/platform/requestid"
)

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes {"error": code, "request_id": ...} plus extra fields.
// extra cannot override the code or the request id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string, extra map[string]any) {
	body := make(map[string]any, len(extra)+2)
	maps.Copy(body, extra)
	body["error"] = code
	body["request_id"] = r.Header.Get(requestid.Header)
	WriteJSON(w, status, body)
}
