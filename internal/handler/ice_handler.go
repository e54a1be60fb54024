package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alexsmy/bot-29-sub000/internal/iceservers"
)

// ICEHandler serves GET /api/ice-servers.
type ICEHandler struct {
	svc *iceservers.Service
}

// NewICEHandler creates an ICE handler.
func NewICEHandler(svc *iceservers.Service) *ICEHandler {
	return &ICEHandler{svc: svc}
}

// Servers returns the ICE server list as a bare JSON array.
func (h *ICEHandler) Servers(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.svc.GetICEServers(c.Request.Context()))
}
