package handlers

import (
	"net/http"
	"strconv"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

// SecurityEventReader exposes the recent security event log.
// services.CallSecurityManager satisfies it.
type SecurityEventReader interface {
	SecurityEvents(limit int) []models.SecurityEvent
}

type SecurityHandler struct {
	events SecurityEventReader
}

func NewSecurityHandler(events SecurityEventReader) *SecurityHandler {
	return &SecurityHandler{events: events}
}

// Events godoc
// GET /api/security/events?limit=100
// Operators only. Events are returned oldest first.
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	pkg.JSON(w, http.StatusOK, h.events.SecurityEvents(limit))
}
