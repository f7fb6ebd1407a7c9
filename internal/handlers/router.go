package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/card-lobby/internal/middleware"
	"go.uber.org/zap"
)

// RouterConfig selects the optional parts of the HTTP surface.
type RouterConfig struct {
	AllowedOrigins []string
	GuestTokens    bool
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(s *Server, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(s.identity)

	apiGroup := router.Group("/api")
	{
		if cfg.GuestTokens {
			apiGroup.POST("/auth/guest", s.GuestToken)
		}

		apiGroup.GET("/rooms", s.ListRooms)
		apiGroup.GET("/rooms/:code", s.GetRoom)

		apiGroup.POST("/rooms", auth, s.CreateRoom)
		apiGroup.POST("/rooms/:code/join", auth, s.JoinRoom)
		apiGroup.POST("/rooms/:code/leave", auth, s.LeaveRoom)
		apiGroup.POST("/rooms/:code/ready", auth, s.SetReady)
		apiGroup.POST("/rooms/:code/start", auth, s.StartGame)
	}

	wsGroup := router.Group("/ws")
	{
		// Browsers cannot set headers on the handshake, so the token may
		// arrive as ?token=
		wsGroup.GET("/rooms/:code", auth, s.HandleRoomSocket)
	}

	return router
}
