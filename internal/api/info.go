package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// endpoints lists the public routes.
var endpoints = map[string]string{
	"voice_incoming":     "POST /api/voice/incoming",
	"voice_process":      "POST /api/voice/process",
	"voice_audio":        "GET /api/voice/audio/{filename}",
	"chat":               "GET/POST /api/chat",
	"status":             "GET /api/status",
	"health":             "GET /api/health",
	"events":             "GET /api/events",
	"events_stream":      "GET /api/events/ws",
	"twilio_credentials": "GET/POST /api/twilio/credentials",
}

// InfoHandler serves the API description documents.
type InfoHandler struct {
	model       string
	provider    string
	ttsProvider string
}

// NewInfoHandler creates an InfoHandler.
func NewInfoHandler(model, provider, ttsProvider string) *InfoHandler {
	return &InfoHandler{model: model, provider: provider, ttsProvider: ttsProvider}
}

// RegisterRoutes mounts GET /api and GET /api/status.
func (h *InfoHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api", h.Info)
	r.Get("/api/status", h.Status)
}

// Info returns the API name, version and endpoint list.
func (h *InfoHandler) Info(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Voice relay API",
		"status":    "running",
		"version":   Version,
		"endpoints": endpoints,
	})
}

// Status reports the models in use.
func (h *InfoHandler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":       "running",
		"model":        h.model,
		"llm_provider": h.provider,
		"tts_provider": h.ttsProvider,
		"endpoints":    endpoints,
	})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its conversation store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
