package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/pkg/ratelimit"
	"github.com/serofero/server/services"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temp files managed by net/http.
const multipartMemory = 8 << 20

// multipartOverhead leaves room for form fields next to the file.
const multipartOverhead = 1 << 20

type MessageHandler struct {
	messageService services.MessageService
	limiter        *ratelimit.MessageRateLimiter
	maxUploadSize  int64
}

// NewMessageHandler builds the handler. limiter may be nil.
func NewMessageHandler(
	messageService services.MessageService,
	limiter *ratelimit.MessageRateLimiter,
	maxUploadSize int64,
) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		limiter:        limiter,
		maxUploadSize:  maxUploadSize,
	}
}

type sendMessageBody struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// Create godoc
// POST /api/messages
// Accepts JSON {receiver_id, content} or multipart with the fields
// receiver_id, content and an optional file.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(user.ID) {
		pkg.ErrorWithMessage(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many messages, try again in %d seconds", h.limiter.CooldownSeconds(user.ID)))
		return
	}

	var req services.SendMessageRequest

	if isMultipart(r.Header.Get("Content-Type")) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				pkg.ErrorWithMessage(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("File too large. Maximum size is %dMB", h.maxUploadSize/(1024*1024)))
				return
			}
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		receiverID, err := strconv.ParseInt(r.FormValue("receiver_id"), 10, 64)
		if err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "receiver_id is required")
			return
		}
		req.ReceiverID = receiverID
		req.Content = r.FormValue("content")

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			req.Attachment = &services.Attachment{
				Filename: header.Filename,
				Size:     header.Size,
				Reader:   file,
			}
		case errors.Is(err, http.ErrMissingFile):
		default:
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid file")
			return
		}
	} else {
		var body sendMessageBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.ReceiverID = body.ReceiverID
		req.Content = body.Content
	}

	if req.ReceiverID <= 0 {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "receiver_id is required")
		return
	}

	message, err := h.messageService.Send(r.Context(), user, req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, message)
}

func isMultipart(contentType string) bool {
	return strings.HasPrefix(contentType, "multipart/form-data")
}
