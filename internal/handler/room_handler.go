package handler

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/service"
)

var notFoundPage = template.Must(template.New("not_found").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>Call not available</title></head>
<body><h1>This call link is no longer available</h1>
<p>The room has expired or was closed. Ask for a new invitation.</p></body></html>
`))

var roomPage = template.Must(template.New("room").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>Private call</title></head>
<body data-room-id="{{.RoomID}}" data-ws-url="{{.WSURL}}" data-ice-url="{{.ICEURL}}">
<div id="app"></div></body></html>
`))

// RoomHandler serves the room page and the user-initiated close.
type RoomHandler struct {
	svc    *service.RoomService
	logger *zap.Logger
}

// NewRoomHandler creates a room handler.
func NewRoomHandler(svc *service.RoomService, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{svc: svc, logger: logger}
}

// Page godoc
// GET /call/:room_id
func (h *RoomHandler) Page(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, err := uuid.Parse(roomID); err != nil {
		h.notFound(c)
		return
	}
	ok, err := h.svc.Routable(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("room page lookup", zap.String("room_id", roomID), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	if !ok {
		h.notFound(c)
		return
	}
	urls := h.svc.URLs()
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	// ws:// and wss:// are not on html/template's safe scheme list.
	_ = roomPage.Execute(c.Writer, map[string]any{
		"RoomID": roomID,
		"WSURL":  template.URL(urls.WSURL(roomID)),
		"ICEURL": template.URL(urls.ICEURL()),
	})
}

func (h *RoomHandler) notFound(c *gin.Context) {
	c.Status(http.StatusNotFound)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = notFoundPage.Execute(c.Writer, nil)
}

// Close godoc
// POST /room/close/:room_id
// participant_id comes from the JSON body or the X-Participant-ID header.
func (h *RoomHandler) Close(c *gin.Context) {
	roomID := c.Param("room_id")
	var req model.UserCloseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
			return
		}
	}
	if req.ParticipantID == "" {
		req.ParticipantID = c.GetHeader("X-Participant-ID")
	}
	if err := h.svc.CloseByParticipant(roomID, req.ParticipantID); err != nil {
		if errors.Is(err, errs.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this room"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close room"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "closing"})
}
