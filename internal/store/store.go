// Package store keeps the durable room records. Every backend offers an
// atomic read-modify-write per room code and a create that fails when the
// code is already taken.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/card-lobby/internal/models"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrConflict = errors.New("room code already in use")
	// ErrSkip tells Mutate that fn made no change; nothing is written.
	ErrSkip = errors.New("no change")
	// ErrContention is returned when optimistic retries run out.
	ErrContention = errors.New("room update contention")
	ErrImmutable  = errors.New("immutable room field changed")
	ErrTransition = errors.New("invalid status transition")
)

// MutateFunc edits a private copy of the room.
type MutateFunc func(room *models.Room) error

// ListFilter narrows List. A zero Limit returns every match.
type ListFilter struct {
	Status         models.RoomStatus
	Limit          int
	IncludePrivate bool
}

func (f ListFilter) matches(r *models.Room) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return f.IncludePrivate || !r.IsPrivate
}

// Repository is the room store contract.
type Repository interface {
	Get(ctx context.Context, code string) (*models.Room, error)
	Create(ctx context.Context, room *models.Room) (*models.Room, error)
	Mutate(ctx context.Context, code string, fn MutateFunc) (*models.Room, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Room, error)
}

// prepareCreate stamps a new record before it is inserted.
func prepareCreate(room *models.Room, now time.Time) (*models.Room, error) {
	r := room.Clone()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	r.Version = 1
	r.Recount()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// applyMutation runs fn on a copy of current and enforces the write
// invariants. It returns (nil, ErrSkip) when fn asked for no write.
func applyMutation(current *models.Room, fn MutateFunc, now time.Time) (*models.Room, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	if next.Code != current.Code || !next.CreatedAt.Equal(current.CreatedAt) {
		return nil, ErrImmutable
	}
	if !current.Status.CanTransitionTo(next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, current.Status, next.Status)
	}

	next.Recount()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next, nil
}
