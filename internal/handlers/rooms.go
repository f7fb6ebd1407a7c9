package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/card-lobby/internal/broadcast"
	"github.com/mossy-p/card-lobby/internal/lobby"
	"github.com/mossy-p/card-lobby/internal/middleware"
	"github.com/mossy-p/card-lobby/internal/models"
	"go.uber.org/zap"
)

// RoomService is the lobby as seen by the transport.
type RoomService interface {
	CreateRoom(ctx context.Context, params lobby.CreateRoomParams, caller lobby.Caller) (*models.Room, error)
	JoinRoom(ctx context.Context, code, playerID, playerName string, caller lobby.Caller) (*models.Room, error)
	LeaveRoom(ctx context.Context, code, playerID string) (*models.Room, error)
	SetReady(ctx context.Context, code, playerID string, isReady bool) (*models.Room, error)
	StartGame(ctx context.Context, code, callerID string) (*models.Room, error)
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	ListRooms(ctx context.Context, status models.RoomStatus, limit int) ([]*models.Room, error)
	Subscribe(ctx context.Context, code string, sub broadcast.Subscriber) (*models.Room, error)
	Unsubscribe(code string, sub broadcast.Subscriber)
}

// Server holds the HTTP and websocket handlers.
type Server struct {
	rooms    RoomService
	identity *middleware.IdentityResolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(rooms RoomService, identity *middleware.IdentityResolver, logger *zap.Logger) *Server {
	return &Server{
		rooms:    rooms,
		identity: identity,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

func mustCaller(c *gin.Context) (lobby.Caller, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return caller, ok
}

// CreateRoom creates a new room hosted by the caller (requires authentication)
func (s *Server) CreateRoom(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	room, err := s.rooms.CreateRoom(c.Request.Context(), lobby.CreateRoomParams{
		Title:     req.Title,
		HostID:    caller.ID,
		HostName:  req.HostName,
		ImageURL:  req.ImageURL,
		IsPrivate: req.IsPrivate,
	}, caller)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms lists public rooms, newest first (public)
func (s *Server) ListRooms(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": "invalid_argument"})
			return
		}
		limit = n
	}

	rooms, err := s.rooms.ListRooms(c.Request.Context(), models.RoomStatus(c.Query("status")), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	c.JSON(http.StatusOK, models.ListRoomsResponse{Rooms: rooms})
}

// GetRoom gets room information by code (public)
func (s *Server) GetRoom(c *gin.Context) {
	room, err := s.rooms.GetRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoom seats the caller
func (s *Server) JoinRoom(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req models.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	room, err := s.rooms.JoinRoom(c.Request.Context(), c.Param("code"), caller.ID, req.PlayerName, caller)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// LeaveRoom gives up the caller's seat
func (s *Server) LeaveRoom(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	room, err := s.rooms.LeaveRoom(c.Request.Context(), c.Param("code"), caller.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// SetReady toggles the caller's ready flag
func (s *Server) SetReady(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req models.ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_argument"})
		return
	}

	room, err := s.rooms.SetReady(c.Request.Context(), c.Param("code"), caller.ID, *req.IsReady)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// StartGame starts the game (requires authentication and host)
func (s *Server) StartGame(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	room, err := s.rooms.StartGame(c.Request.Context(), c.Param("code"), caller.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}
