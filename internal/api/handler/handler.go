package handler

import (
	"tinchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler serves the HTTP surface of the hub.
type Handler struct {
	Hub    *chathub.ManagerService
	secret []byte
	logger zerolog.Logger
}

func NewHandler(hub *chathub.ManagerService, jwtSecret string, logger *zerolog.Logger) *Handler {
	return &Handler{
		Hub:    hub,
		secret: []byte(jwtSecret),
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/stats", h.GetStats)
	r.GET("/healthz", h.Health)
}
