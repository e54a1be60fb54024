package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/observer"
)

// EventsHandler streams observer events to admin monitoring clients: /ws/admin/events.
type EventsHandler struct {
	broker   *observer.Broker
	upgrader *websocket.Upgrader
	opts     WSOptions
	logger   *zap.Logger
}

// NewEventsHandler creates the admin event stream handler.
func NewEventsHandler(broker *observer.Broker, opts WSOptions, logger *zap.Logger) *EventsHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &EventsHandler{broker: broker, upgrader: newUpgrader(opts), opts: opts, logger: logger.Named("events")}
}

// ServeWS upgrades and forwards every event published after the subscription.
func (h *EventsHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.broker.Subscribe(256)
	defer cancel()

	// Reader only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			raw, err := json.Marshal(e)
			if err != nil {
				h.logger.DPanic("encode event", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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
