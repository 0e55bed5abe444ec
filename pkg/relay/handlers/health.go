package handlers

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/clearline/assist/pkg/relay/sessions"
)

// HealthHandler reports liveness plus a small amount of operational state.
type HealthHandler struct {
	Sessions *sessions.Tracker
	Draining *atomic.Bool
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.Draining != nil && h.Draining.Load() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}
	active := 0
	if h.Sessions != nil {
		active = h.Sessions.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          status,
		"active_sessions": active,
	})
}
