package server

import (
	"net/http"

	"github.com/joshp123/epdrelay/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// StatusHandler lists component health. It answers 503 when any component
// is in error.
func StatusHandler(status *core.StatusService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		overall := status.Overall()
		code := http.StatusOK
		if overall == core.HealthError {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":     overall,
			"components": status.List(),
		})
	})
}
