package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/handler"
	"github.com/alexsmy/bot-29-sub000/internal/middleware"
	"github.com/alexsmy/bot-29-sub000/pkg/constants"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Room      *handler.RoomHandler
	Signaling *handler.SignalingHandler
	Events    *handler.EventsHandler
	Admin     *handler.AdminHandler
	ICE       *handler.ICEHandler
	Health    *handler.HealthHandler

	Auth       middleware.Authenticator
	ICELimiter *middleware.IPRateLimiter
}

// New builds the HTTP router. basePath is "" or "/prefix".
func New(basePath string, h Handlers, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.Logger(logger))

	r.GET(constants.PathHealth, h.Health.Health)
	r.GET(constants.PathReady, h.Health.Ready)
	r.GET(constants.PathMetrics, gin.WrapH(promhttp.Handler()))

	base := r.Group(basePath)
	{
		base.GET(constants.PathRoomPage, h.Room.Page)
		base.POST(constants.PathUserClose, h.Room.Close)
		base.GET(constants.PathSignalingWS, h.Signaling.ServeWS)
		base.GET(constants.PathICEServers, middleware.RateLimit(h.ICELimiter), h.ICE.Servers)
	}

	admin := base.Group("", middleware.RequireAdmin(h.Auth))
	{
		admin.POST(constants.PathAdminRoom, h.Admin.CreateRoom)
		admin.DELETE(constants.PathAdminRoomByID, h.Admin.CloseRoom)
		admin.GET(constants.PathAdminRoomCalls, h.Admin.RoomCalls)
		admin.GET(constants.PathAdminRooms, h.Admin.ListRooms)
		admin.GET(constants.PathAdminEventsWS, h.Events.ServeWS)
	}

	return r
}
