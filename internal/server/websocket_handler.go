package server

import (
	"net/http"

	"matjip-chat/internal/events"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades authenticated requests to live connections. It must be routed
// behind middleware.AuthMiddleware, which answers bad tokens with 401 before any upgrade.
type WebSocketHandler struct {
	hub    *Hub
	logger *WebSocketLogger
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: hub.logger}
}

func (h *WebSocketHandler) Handle(c *gin.Context) {
	user, ok := services.UserFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", events.CodeUnauthorized))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", user.ID, "", err)
		return
	}

	client := NewClient(h.hub, conn, user, h.logger)
	client.sendFrame(h.hub.Welcome(user.ID))
	if !h.hub.Register(client) {
		h.logger.Warn("hub stopped, dropping connection", user.ID, client.clientID, zap.String("remote", c.ClientIP()))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
