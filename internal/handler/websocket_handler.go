package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/errs"
	"github.com/alexsmy/bot-29-sub000/internal/metrics"
	"github.com/alexsmy/bot-29-sub000/internal/model"
	"github.com/alexsmy/bot-29-sub000/internal/service"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Close handshake budget for refused connections.
	closeGrace = time.Second
)

// WSOptions tunes the WebSocket endpoints.
type WSOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	AllowedOrigins  []string
}

func newUpgrader(o WSOptions) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(o.AllowedOrigins))
	for _, a := range o.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(a, "/"))] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  o.ReadBufferSize,
		WriteBufferSize: o.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// SignalingHandler is the WebSocket boundary of a room: /ws/private/:room_id.
type SignalingHandler struct {
	registry *service.Registry
	upgrader *websocket.Upgrader
	opts     WSOptions
	logger   *zap.Logger
}

// NewSignalingHandler creates the signaling gateway.
func NewSignalingHandler(reg *service.Registry, opts WSOptions, logger *zap.Logger) *SignalingHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &SignalingHandler{
		registry: reg,
		upgrader: newUpgrader(opts),
		opts:     opts,
		logger:   logger.Named("gateway"),
	}
}

// ServeWS upgrades the request, resolves the room and runs the participant session.
// Refusals happen after the upgrade so the client sees a close code.
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	roomID := c.Param("room_id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var room *service.Room
	if _, perr := uuid.Parse(roomID); perr == nil {
		room, err = h.registry.GetOrRestore(c.Request.Context(), roomID)
		if err != nil {
			h.logger.Error("resolve room", zap.String("room_id", roomID), zap.Error(err))
			h.refuse(conn, websocket.CloseInternalServerErr, "Temporarily unavailable")
			return
		}
	}
	if room == nil {
		h.refuse(conn, websocket.ClosePolicyViolation, model.ReasonRoomNotFound)
		return
	}

	ua := c.Request.UserAgent()
	p := service.NewParticipant(service.Metadata{
		IP:         c.ClientIP(),
		Location:   location(c.Request),
		DeviceType: service.DeviceClass(ua),
		UserAgent:  ua,
	}, h.registry.SendBuffer())

	if err := room.Join(p); err != nil {
		switch {
		case errors.Is(err, errs.ErrRoomFull):
			h.refuse(conn, websocket.ClosePolicyViolation, model.ReasonRoomFull)
		default:
			h.refuse(conn, websocket.ClosePolicyViolation, model.ReasonRoomNotFound)
		}
		return
	}
	log := h.logger.With(zap.String("room_id", roomID), zap.String("participant_id", p.ID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, p, log)
	}()
	h.readPump(conn, room, p, log)
	room.Leave(p.ID)
	<-done
}

func (h *SignalingHandler) readPump(conn *websocket.Conn, room *service.Room, p *service.Participant, log *zap.Logger) {
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			metrics.DroppedFrames.WithLabelValues("binary").Inc()
			continue
		}
		in, err := service.ParseInbound(raw)
		if err != nil {
			metrics.DroppedFrames.WithLabelValues("bad_frame").Inc()
			log.Debug("bad frame dropped", zap.Error(err))
			continue
		}
		room.Handle(p.ID, in)
	}
}

// writePump is the only writer on conn. It ends when the room closes the
// participant's queue or a write fails; either way the connection is closed
// so the read pump unblocks.
func (h *SignalingHandler) writePump(conn *websocket.Conn, p *service.Participant, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	out := p.Outbound()
	for {
		select {
		case frame, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				code, reason := p.CloseStatus()
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("write failed, dropping participant", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *SignalingHandler) refuse(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	// Wait briefly for the client's close frame so the code reaches it before TCP teardown.
	_ = conn.SetReadDeadline(time.Now().Add(closeGrace))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func location(r *http.Request) string {
	for _, hdr := range []string{"X-Geo-Location", "CF-IPCountry"} {
		if v := strings.TrimSpace(r.Header.Get(hdr)); v != "" {
			return v
		}
	}
	return ""
}
