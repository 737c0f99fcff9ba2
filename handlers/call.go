package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/services"
)

type CallHandler struct {
	callService services.CallService
}

func NewCallHandler(callService services.CallService) *CallHandler {
	return &CallHandler{callService: callService}
}

type initiateCallBody struct {
	ReceiverID int64           `json:"receiver_id"`
	CallType   models.CallType `json:"call_type"`
}

// Initiate godoc
// POST /api/calls
// Checks blocks and the caller's rate limit, then opens a call session.
// The returned call_id is used in the webrtc-* WebSocket messages.
func (h *CallHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var body initiateCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.CallType == "" {
		body.CallType = models.CallTypeAudio
	}

	session, err := h.callService.InitiateCall(r.Context(), user, body.ReceiverID, body.CallType)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, session)
}

// List godoc
// GET /api/calls
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	pkg.JSON(w, http.StatusOK, h.callService.ActiveCalls(user.ID))
}

// Health godoc
// GET /api/calls/{id}/health
func (h *CallHandler) Health(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	health, err := h.callService.Health(user.ID, r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, health)
}

// Heartbeat godoc
// POST /api/calls/{id}/heartbeat
func (h *CallHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	if err := h.callService.Heartbeat(user.ID, r.PathValue("id")); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "heartbeat recorded"})
}

// End godoc
// DELETE /api/calls/{id}
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	if err := h.callService.EndCall(user.ID, r.PathValue("id")); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "call ended"})
}

type encryptBody struct {
	Data json.RawMessage `json:"data"`
}

// Encrypt godoc
// POST /api/calls/{id}/encrypt
// Body: {"data": <any JSON>}
func (h *CallHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var body encryptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Data) == 0 {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "data is required")
		return
	}

	sealed, err := h.callService.Encrypt(user.ID, r.PathValue("id"), body.Data)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, sealed)
}

// Decrypt godoc
// POST /api/calls/{id}/decrypt
// Body: {"encrypted_data": "...", "nonce": "..."}
func (h *CallHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	var sealed models.SealedPayload
	if err := json.NewDecoder(r.Body).Decode(&sealed); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	data, err := h.callService.Decrypt(user.ID, r.PathValue("id"), sealed)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]json.RawMessage{"data": data})
}
