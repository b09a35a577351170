package handlers

import (
	"net/http"

	"github.com/kiprono234/chat-verse/internal/models"
)

// PresenceSource exposes the current presence list.
type PresenceSource interface {
	Snapshot() models.PresenceSnapshot
	Len() int
}

// PresenceHandler serves GET /api/presence
type PresenceHandler struct {
	registry PresenceSource
}

// NewPresenceHandler creates a new PresenceHandler instance.
func NewPresenceHandler(registry PresenceSource) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// GetPresence returns who is online, in join order.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}
