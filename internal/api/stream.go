package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lumenclean/pkg/logger"
)

const (
	heartbeatInterval = 15 * time.Second
	writeWait         = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEvents streams finished turns as Server-Sent Events
// @Summary Stream finished turns (SSE)
// @Description Emits a "turn" event for each turn of the conversation that reaches a terminal state, and a "ping" event periodically.
// @Tags realtime
// @Produce text/event-stream
// @Param id path string true "Conversation ID"
// @Success 200 {object} realtime.Event
// @Failure 400 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/events [get]
func (h *Handler) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.svc.SubscribeRealtime(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.svc.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent("subscribed", gin.H{"subscription_id": sub.ID, "conversation_id": sub.ConversationID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("turn", ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// StreamWebSocket streams finished turns over a WebSocket as JSON messages
// @Summary Stream finished turns (WebSocket)
// @Tags realtime
// @Param id path string true "Conversation ID"
// @Success 101 {object} realtime.Event
// @Failure 400 {object} ErrorResponse
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /api/v1/conversations/{id}/ws [get]
func (h *Handler) StreamWebSocket(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// subscribe before the handshake so nothing published after it is missed
	sub, err := h.svc.SubscribeRealtime(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.svc.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "conversation_id", id, "error", err)
		return
	}
	defer conn.Close()

	// the client only sends control frames; reading surfaces its close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("WebSocket read error", "conversation_id", id, "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("WebSocket write failed", "conversation_id", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
