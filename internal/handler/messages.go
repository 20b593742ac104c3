package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/service"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	rooms  *service.RoomService
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(rooms *service.RoomService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		rooms:  rooms,
		logger: log,
	}
}

// Delete handles DELETE /api/v1/messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeModelError(w, err)
		return
	}

	if err := h.rooms.DeleteMessage(ctx, middleware.GetUserID(ctx), messageID); err != nil {
		writeModelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
