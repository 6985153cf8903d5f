// Package api provides the HTTP handlers of the study relay.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/studyrelay/internal/store"
)

// LivenessText is the body served on GET /.
const LivenessText = "STUDY BOT AI RUNNING ✔"

// Handler provides common handler dependencies.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Root serves the static liveness string.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(LivenessText))
}

// Health reports process and store health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	status := http.StatusOK
	if err := h.ping(r.Context()); err != nil {
		storeStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, map[string]string{
		"status": http.StatusText(status),
		"store":  storeStatus,
	})
}

func (h *Handler) ping(ctx context.Context) error {
	if h.repo == nil {
		return nil
	}
	return h.repo.Ping(ctx)
}
