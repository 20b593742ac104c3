package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/internal/service"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// RoomHandler handles room and history endpoints.
type RoomHandler struct {
	rooms  *service.RoomService
	logger *logger.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(rooms *service.RoomService, log *logger.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:  rooms,
		logger: log,
	}
}

// List handles GET /api/v1/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.rooms.ListRooms(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/rooms/{peerId}/messages
func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit := 0
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	resp, err := h.rooms.History(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "peerId"), query.Get("subject"), limit)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/rooms/{peerId}/read
func (h *RoomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.rooms.MarkRead(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "peerId"), r.URL.Query().Get("subject"))
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
