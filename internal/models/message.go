package models

import (
	"encoding/json"
	"time"
)

// EventType names a room-scoped broadcast
type EventType string

const (
	EventRoomState         EventType = "room-state"
	EventPlayerJoined      EventType = "player-joined"
	EventPlayerLeft        EventType = "player-left"
	EventPlayerReadyUpdate EventType = "player-ready-update"
	EventGameStarted       EventType = "game-started"
	EventHostChanged       EventType = "host-changed"
)

// Event is a room broadcast. Version is the room revision the event was
// produced from; every event of one commit shares it.
type Event struct {
	Type    EventType       `json:"type"`
	Room    string          `json:"room"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload into an Event.
func NewEvent(t EventType, room *Room, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Room: room.Code, Version: room.Version, Payload: data}, nil
}

// SnapshotEvent builds an event whose payload is the full room.
func SnapshotEvent(t EventType, room *Room) (Event, error) {
	return NewEvent(t, room, room)
}

type PlayerJoinedPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Timestamp  int64  `json:"timestamp"`
}

type PlayerLeftPayload struct {
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

type PlayerReadyPayload struct {
	PlayerID  string `json:"playerId"`
	IsReady   bool   `json:"isReady"`
	Timestamp int64  `json:"timestamp"`
}

type HostChangedPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Timestamp  int64  `json:"timestamp"`
}

// Timestamp renders t the way event payloads carry it (unix millis).
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// ClientMessageType represents a protocol request sent over the room socket
type ClientMessageType string

const (
	ClientJoin      ClientMessageType = "join"
	ClientLeave     ClientMessageType = "leave"
	ClientSetReady  ClientMessageType = "set-ready"
	ClientStartGame ClientMessageType = "start-game"
)

// ClientMessage is a request read from a room socket
type ClientMessage struct {
	Type       ClientMessageType `json:"type"`
	RequestID  string            `json:"requestId,omitempty"`
	PlayerName string            `json:"playerName,omitempty"`
	IsReady    *bool             `json:"isReady,omitempty"`
}

// ReplyType distinguishes direct answers from room broadcasts
type ReplyType string

const (
	ReplyAck   ReplyType = "ack"
	ReplyError ReplyType = "error"
)

// Reply answers one ClientMessage and goes only to its sender
type Reply struct {
	Type      ReplyType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Room      *Room     `json:"roomState,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
}
