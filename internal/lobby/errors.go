package lobby

import (
	"errors"

	"github.com/mossy-p/card-lobby/internal/store"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = store.ErrConflict
	ErrRoomFull          = errors.New("room is full")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid room state")
	ErrRoomClosed        = errors.New("room is closed")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Kind returns a stable identifier for err's class, used on the wire.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	}
	return "internal"
}
