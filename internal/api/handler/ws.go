package handler

import (
	"net/http"
	"strings"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/localization"
	"tinchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the web client has a fixed domain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and hands the connection to the hub.
// A token is optional; without one the connection stays anonymous until it
// presents an identity itself.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	var identity string
	if token := bearerToken(c); token != "" {
		anonID, err := h.validateAndGetAnonID(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		identity = anonID
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, &h.logger)
	h.Hub.Connect(client, models.ConnectionMeta{
		Identity:  identity,
		UserAgent: c.Request.UserAgent(),
		Address:   c.ClientIP(),
		Lang:      localization.ParseAcceptLanguage(c.GetHeader("Accept-Language")),
	})
	client.Run()
}

func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return c.Query("token")
}
