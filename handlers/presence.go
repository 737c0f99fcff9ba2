package handlers

import (
	"net/http"
	"strconv"

	"github.com/serofero/server/pkg"
)

// PresenceReader answers who is connected. ws.Hub satisfies it.
type PresenceReader interface {
	IsOnline(userID int64) bool
	OnlineUserIDs() []int64
}

type PresenceResponse struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Online godoc
// GET /api/users/online
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	pkg.JSON(w, http.StatusOK, map[string][]int64{"user_ids": h.presence.OnlineUserIDs()})
}

// Get godoc
// GET /api/users/{id}/presence
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}

	pkg.JSON(w, http.StatusOK, PresenceResponse{UserID: id, Online: h.presence.IsOnline(id)})
}
