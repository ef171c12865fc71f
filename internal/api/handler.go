// Package api provides HTTP handlers for the assistant API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/assist-engine/internal/navigation"
	"github.com/ashureev/assist-engine/internal/store"
	"github.com/ashureev/assist-engine/internal/widget"
)

// Handler provides common handler utilities.
type Handler struct {
	repo          store.Repository
	mounts        *widget.MountManager
	locationParam string
	staleWindow   time.Duration
}

// NewHandler creates a new Handler with common dependencies. locationParam
// names the query parameter that carries the tab; empty selects the default.
func NewHandler(repo store.Repository, mounts *widget.MountManager, locationParam string, staleWindow time.Duration) *Handler {
	if locationParam == "" {
		locationParam = navigation.DefaultParam
	}
	if staleWindow <= 0 {
		staleWindow = widget.DefaultTiming().StaleWindow
	}
	return &Handler{
		repo:          repo,
		mounts:        mounts,
		locationParam: locationParam,
		staleWindow:   staleWindow,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
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
