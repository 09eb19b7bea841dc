package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler serves probe endpoints from the manager's cached snapshot.
type HTTPHandler struct {
	mgr    *Manager
	logger *zap.Logger
}

func NewHTTPHandler(mgr *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers probe routes on the provided mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
	mux.HandleFunc("/readiness", h.handleReadiness)
	mux.HandleFunc("/liveness", h.handleLiveness)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.mgr.Snapshot(false)
	status := http.StatusOK
	if snap.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeStatus(w, status, map[string]any{
		"status": snap.Status.String(),
		"ready":  snap.Ready,
	})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	snap := h.mgr.Snapshot(true)
	status := http.StatusOK
	if snap.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeStatus(w, status, snap)
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.IsReady() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Liveness only proves the process serves HTTP; dependency state belongs
// to readiness.
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "alive"})
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
