package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/assist-engine/internal/contextstore"
	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/identity"
	"github.com/ashureev/assist-engine/internal/navigation"
	"github.com/ashureev/assist-engine/internal/store"
)

// AssistantHandler exposes the persisted assistant state of the calling
// device.
type AssistantHandler struct {
	*Handler

	// clearLocks prevents concurrent context clears for the same device.
	clearLocks sync.Map
}

// NewAssistantHandler creates a new assistant handler.
func NewAssistantHandler(base *Handler) *AssistantHandler {
	return &AssistantHandler{Handler: base}
}

// RegisterRoutes registers assistant routes.
func (h *AssistantHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Route("/assistant", func(r chi.Router) {
			r.Get("/location", h.GetLocation)
			r.Get("/context", h.GetContext)
			r.Delete("/context", h.ClearContext)
			r.Get("/insights", h.GetInsights)
		})
	})
}

// GetMe returns the identity the widget is running under.
func (h *AssistantHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	mounted := h.mounts != nil && h.mounts.Get(deviceID, sessionID) != nil
	JSON(w, http.StatusOK, map[string]any{
		"device_id":  deviceID,
		"session_id": sessionID,
		"role":       identity.RoleFromContext(r.Context()),
		"mounted":    mounted,
	})
}

// GetLocation returns the location indicator restored after a reload.
func (h *AssistantHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	loc := navigation.LoadLocation(r.Context(), h.repo, deviceID)
	q := loc.Query()
	JSON(w, http.StatusOK, map[string]any{
		"query": q.Encode(),
		"tab":   q.Get(h.locationParam),
	})
}

// GetContext returns the device's navigation context, if any.
func (h *AssistantHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	contexts, ok := h.contexts(w, r)
	if !ok {
		return
	}
	nc := contexts.GetContext(r.Context())
	if nc == nil {
		Error(w, http.StatusNotFound, "no navigation context")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"context": nc,
		"pending": nc.IsPending(),
		"stale":   nc.IsStale(time.Now(), h.staleWindow),
	})
}

// ClearContext drops the device's navigation context.
func (h *AssistantHandler) ClearContext(w http.ResponseWriter, r *http.Request) {
	contexts, ok := h.contexts(w, r)
	if !ok {
		return
	}
	deviceID := identity.DeviceIDFromContext(r.Context())

	lock, _ := h.clearLocks.LoadOrStore(deviceID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	if !mu.TryLock() {
		Error(w, http.StatusConflict, "clear already in progress")
		return
	}
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	contexts.ClearContext(ctx)
	cancelled := 0
	if h.mounts != nil {
		for _, m := range h.mounts.Device(deviceID) {
			if m.Window != nil && m.Window.CancelFollowUp() == nil {
				cancelled++
			}
		}
	}
	slog.Info("Navigation context cleared", "device_id", deviceID, "mounts", cancelled)
	w.WriteHeader(http.StatusNoContent)
}

// GetInsights exports the device's insight log.
func (h *AssistantHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	contexts, ok := h.contexts(w, r)
	if !ok {
		return
	}
	insights := contexts.Insights(r.Context())
	if insights == nil {
		insights = []domain.Insight{}
	}
	JSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (h *AssistantHandler) contexts(w http.ResponseWriter, r *http.Request) (*contextstore.Store, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	contexts, err := contextstore.New(h.repo, deviceID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to open context store")
		return nil, false
	}
	return contexts, true
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
