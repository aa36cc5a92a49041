package mcpserver

import (
	"encoding/json"
	"io"
	"net/http"
)

// ServeHTTP implements http.Handler, carrying one JSON-RPC envelope
// per POST. Protocol-level failures (parse errors, unknown methods,
// tool faults) are reported inside the envelope with status 200;
// non-200 statuses are reserved for transport-level problems.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	resp := s.HandleRaw(r.Context(), body)
	if resp == nil {
		// Notification or undecodable frame: acknowledge with no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("write HTTP response", "error", err)
	}
}
