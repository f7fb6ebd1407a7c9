package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/card-lobby/internal/lobby"
	"github.com/mossy-p/card-lobby/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
	opTimeout      = 5 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	ConnID string
	Caller lobby.Caller
	Room   string
	Conn   *websocket.Conn
	Send   chan []byte

	logger *zap.Logger
}

func (c *Client) ID() string { return c.ConnID }

// Deliver queues a room event without blocking the broadcaster.
func (c *Client) Deliver(ev models.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to marshal event", zap.Error(err))
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

func (c *Client) reply(r models.Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// HandleRoomSocket upgrades the request and subscribes the connection to one
// room. Closing the socket unsubscribes it; the player keeps their seat.
func (s *Server) HandleRoomSocket(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	code := lobby.NormalizeCode(c.Param("code"))

	// Validate room exists before upgrading
	if _, err := s.rooms.GetRoom(c.Request.Context(), code); err != nil {
		s.respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	client := &Client{
		ConnID: connID,
		Caller: caller,
		Room:   code,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		logger: s.logger.With(
			zap.String("room", code),
			zap.String("conn", connID),
			zap.String("user", caller.ID)),
	}
	go client.writePump()

	ctx := c.Request.Context()
	if _, err := s.rooms.Subscribe(ctx, code, client); err != nil {
		client.reply(models.Reply{Type: models.ReplyError, Code: lobby.Kind(err), Error: err.Error()})
		close(client.Send)
		return
	}
	client.logger.Info("socket subscribed")

	s.readPump(ctx, client)
}

func (s *Server) readPump(ctx context.Context, c *Client) {
	defer func() {
		s.rooms.Unsubscribe(c.Room, c)
		close(c.Send)
		c.logger.Info("socket closed")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(models.Reply{Type: models.ReplyError, Code: "invalid_argument", Error: "malformed message"})
			continue
		}

		room, err := s.dispatch(ctx, c, msg)
		if err != nil {
			c.reply(models.Reply{Type: models.ReplyError, RequestID: msg.RequestID, Code: lobby.Kind(err), Error: err.Error()})
			continue
		}
		c.reply(models.Reply{Type: models.ReplyAck, RequestID: msg.RequestID, Room: room})
	}
}

// dispatch runs one client request against the lobby as the socket's caller.
func (s *Server) dispatch(ctx context.Context, c *Client, msg models.ClientMessage) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch msg.Type {
	case models.ClientJoin:
		return s.rooms.JoinRoom(ctx, c.Room, c.Caller.ID, msg.PlayerName, c.Caller)
	case models.ClientLeave:
		return s.rooms.LeaveRoom(ctx, c.Room, c.Caller.ID)
	case models.ClientSetReady:
		if msg.IsReady == nil {
			return nil, fmt.Errorf("%w: isReady is required", lobby.ErrInvalidArgument)
		}
		return s.rooms.SetReady(ctx, c.Room, c.Caller.ID, *msg.IsReady)
	case models.ClientStartGame:
		return s.rooms.StartGame(ctx, c.Room, c.Caller.ID)
	}
	return nil, fmt.Errorf("%w: unknown message type %q", lobby.ErrInvalidArgument, msg.Type)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
