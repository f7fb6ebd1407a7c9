package models

import (
	"errors"
	"fmt"
	"time"
)

// MaxPlayers is the seat count of a card table.
const MaxPlayers = 4

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusInProgress RoomStatus = "in_progress"
	StatusFinished   RoomStatus = "finished"
)

// Statuses lists every room status in lifecycle order.
var Statuses = []RoomStatus{StatusWaiting, StatusInProgress, StatusFinished}

// Valid reports whether s is a known status.
func (s RoomStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusFinished:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Staying in the same status is always allowed.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusWaiting:
		return next == StatusInProgress || next == StatusFinished
	case StatusInProgress:
		return next == StatusFinished
	}
	return false
}

// Capacity tracks seat usage. Current is always len(Members).
type Capacity struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Player occupies one seat of a room.
type Player struct {
	ID       string    `json:"id"`
	UserID   *string   `json:"userId"` // nil for guests
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	IsReady  bool      `json:"isReady"`
}

// Room is the durable lobby record.
type Room struct {
	Code      string     `json:"code"` // Short, shareable room code (e.g., "AB12CD")
	Title     string     `json:"title"`
	HostID    string     `json:"hostId"`
	HostName  string     `json:"hostName"`
	ImageURL  string     `json:"imageUrl,omitempty"`
	IsPrivate bool       `json:"isPrivate"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Capacity  Capacity   `json:"capacity"`
	Members   []Player   `json:"members"`
	Version   int64      `json:"version"`
}

var (
	ErrCapacityExceeded = errors.New("member count exceeds capacity")
	ErrDuplicateMember  = errors.New("duplicate member id")
	ErrBadStatus        = errors.New("unknown room status")
	ErrBadCapacity      = errors.New("room capacity must be positive")
)

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Members = make([]Player, len(r.Members))
	for i, p := range r.Members {
		if p.UserID != nil {
			id := *p.UserID
			p.UserID = &id
		}
		out.Members[i] = p
	}
	return &out
}

// MemberIndex returns the slot of the player with the given id, or -1.
func (r *Room) MemberIndex(playerID string) int {
	for i := range r.Members {
		if r.Members[i].ID == playerID {
			return i
		}
	}
	return -1
}

// HasMember reports whether playerID occupies a seat.
func (r *Room) HasMember(playerID string) bool {
	return r.MemberIndex(playerID) >= 0
}

// Full reports whether every seat is taken.
func (r *Room) Full() bool {
	return len(r.Members) >= r.Capacity.Max
}

// AllReady reports whether every member has flagged ready.
// An empty room is never ready.
func (r *Room) AllReady() bool {
	if len(r.Members) == 0 {
		return false
	}
	for _, p := range r.Members {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// Recount refreshes the cached member count.
func (r *Room) Recount() {
	r.Capacity.Current = len(r.Members)
}

// Validate checks the structural invariants that must hold after every write.
func (r *Room) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrBadStatus, r.Status)
	}
	if r.Capacity.Max <= 0 {
		return ErrBadCapacity
	}
	if r.Capacity.Current != len(r.Members) {
		return fmt.Errorf("capacity.current %d does not match %d members", r.Capacity.Current, len(r.Members))
	}
	if len(r.Members) > r.Capacity.Max {
		return fmt.Errorf("%w: %d/%d", ErrCapacityExceeded, len(r.Members), r.Capacity.Max)
	}
	seen := make(map[string]struct{}, len(r.Members))
	for _, p := range r.Members {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Title     string `json:"title" binding:"required,max=64"`
	HostName  string `json:"hostName" binding:"required,max=32"`
	ImageURL  string `json:"imageUrl" binding:"omitempty,url"`
	IsPrivate bool   `json:"isPrivate"`
}

// JoinRoomRequest carries the display name used for the seat
type JoinRoomRequest struct {
	PlayerName string `json:"playerName" binding:"required,max=32"`
}

// ReadyRequest toggles the caller's ready flag
type ReadyRequest struct {
	IsReady *bool `json:"isReady" binding:"required"`
}

// ListRoomsResponse wraps a room listing
type ListRoomsResponse struct {
	Rooms []*Room `json:"rooms"`
}
