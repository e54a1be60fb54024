package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/middleware"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/service"
)

// AdminHandler serves the admin REST API. Routes are guarded by middleware.RequireAdmin.
type AdminHandler struct {
	svc    *service.RoomService
	logger *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(svc *service.RoomService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// CloseRoom godoc
// DELETE /api/admin/room/:room_id
func (h *AdminHandler) CloseRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, err := uuid.Parse(roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err := h.svc.CloseByAdmin(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close room"})
		return
	}
	fields := []zap.Field{zap.String("room_id", roomID)}
	if tok, ok := middleware.AdminFromContext(c); ok {
		fields = append(fields, zap.Int64("admin_user_id", tok.UserID))
	}
	h.logger.Info("room closed by admin", fields...)
	c.JSON(http.StatusOK, model.CloseRoomResponse{Status: "room closed", RoomID: roomID})
}

// CreateRoom godoc
// POST /api/admin/room
func (h *AdminHandler) CreateRoom(c *gin.Context) {
	var req model.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	resp, err := h.svc.CreateRoom(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrBadRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		case errors.Is(err, errs.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
		default:
			h.logger.Error("create room", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListRooms godoc
// GET /api/admin/rooms
func (h *AdminHandler) ListRooms(c *gin.Context) {
	rooms := h.svc.Rooms()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "count": len(rooms)})
}

// RoomCalls godoc
// GET /api/admin/room/:room_id/calls
func (h *AdminHandler) RoomCalls(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, err := uuid.Parse(roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	resp, err := h.svc.Calls(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list calls"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
